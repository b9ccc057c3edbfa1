// Package session drives the NearbyInteraction accessory conversation over
// an already connected link: ask for configuration data, optionally answer
// with a shareable configuration, and track whether UWB ranging runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"uwblink/internal/journal"
	"uwblink/internal/protocol"
	"uwblink/internal/types"
	"uwblink/internal/utils"
)

type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateConfigured   State = "configured"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
)

var ErrProtocolViolation = errors.New("protocol violation")

// Transport writes one frame to the accessory.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
}

type Publisher interface {
	PublishEvent(ev types.AccessoryEvent) error
	PublishStatus(st types.AccessoryStatus) error
}

type Journal interface {
	InsertFrame(ctx context.Context, f journal.Frame) (int64, error)
	InsertConfiguration(ctx context.Context, accessory string, ts time.Time, c protocol.ConfigurationData) error
}

type Options struct {
	Accessory       string
	ShareableConfig []byte
	Transport       Transport
	Publisher       Publisher // optional
	Journal         Journal   // optional
	Logger          *slog.Logger
}

type Controller struct {
	accessory string
	shareable []byte
	transport Transport
	publisher Publisher
	journal   Journal
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	connected bool
	config    *journal.ConfigurationRecord
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		accessory: opts.Accessory,
		shareable: append([]byte(nil), opts.ShareableConfig...),
		transport: opts.Transport,
		publisher: opts.Publisher,
		journal:   opts.Journal,
		logger:    logger.With("accessory", opts.Accessory),
		state:     StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Configuration returns the last configuration data received from the
// accessory and when it arrived.
func (c *Controller) Configuration() (journal.ConfigurationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config == nil {
		return journal.ConfigurationRecord{}, false
	}
	return *c.config, true
}

// LinkUp records a fresh connection and requests configuration data.
func (c *Controller) LinkUp(ctx context.Context) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.publishEvent(types.AccessoryEvent{Type: types.EventLinkUp})
	return c.Start(ctx)
}

// LinkDown resets the session after the link is lost.
func (c *Controller) LinkDown() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.publishEvent(types.AccessoryEvent{Type: types.EventLinkDown})
	c.setState(StateIdle)
}

// Start sends Initialize.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.send(ctx, protocol.NewInitialize()); err != nil {
		return err
	}
	c.setState(StateInitializing)
	return nil
}

// Stop sends Stop. The state changes once the accessory reports UwbDidStop.
func (c *Controller) Stop(ctx context.Context) error {
	return c.send(ctx, protocol.NewStop())
}

// Shutdown asks a ranging accessory to stop. It is called by the link while
// still connected, before LinkDown.
func (c *Controller) Shutdown(ctx context.Context) error {
	switch c.State() {
	case StateStarting, StateRunning:
		c.logger.Info("session: stopping accessory before shutdown")
		return c.Stop(ctx)
	}
	return nil
}

// HandleFrame processes one frame notified by the accessory.
func (c *Controller) HandleFrame(ctx context.Context, frame []byte) error {
	utils.LogBLEMessage("RX: ", frame)
	c.record(ctx, journal.DirectionRX, frame)

	msg, err := protocol.Decode(frame)
	if err != nil {
		c.logger.Warn("session: undecodable frame", "error", err, utils.HexAttr("data", frame))
		c.publishEvent(types.AccessoryEvent{Type: types.EventProtocolError, Data: utils.BytesToHex(frame), Error: err.Error()})
		return err
	}

	switch msg.ID {
	case protocol.AccessoryConfigurationData:
		return c.handleConfiguration(ctx, msg, frame)
	case protocol.AccessoryUwbDidStart:
		c.logger.Info("session: accessory uwb started")
		c.publishEvent(eventFor(types.EventUwbStarted, msg, frame))
		c.setState(StateRunning)
		return nil
	case protocol.AccessoryUwbDidStop:
		c.logger.Info("session: accessory uwb stopped")
		c.publishEvent(eventFor(types.EventUwbStopped, msg, frame))
		c.setState(StateStopped)
		return nil
	default:
		err := fmt.Errorf("%w: accessory sent %s", ErrProtocolViolation, msg.ID)
		c.logger.Warn("session: unexpected message from accessory", "message", msg.ID.String())
		ev := eventFor(types.EventProtocolError, msg, frame)
		ev.Error = err.Error()
		c.publishEvent(ev)
		return err
	}
}

func (c *Controller) handleConfiguration(ctx context.Context, msg protocol.Message, frame []byte) error {
	cfg, err := protocol.ParseConfigurationData(msg.Payload)
	if err != nil {
		c.logger.Warn("session: bad configuration data", "error", err, utils.HexAttr("data", msg.Payload))
		ev := eventFor(types.EventProtocolError, msg, frame)
		ev.Error = err.Error()
		c.publishEvent(ev)
		return err
	}

	received := time.Now()
	c.mu.Lock()
	c.config = &journal.ConfigurationRecord{Time: received, Config: cfg}
	c.mu.Unlock()

	if c.journal != nil {
		if err := c.journal.InsertConfiguration(ctx, c.accessory, received, cfg); err != nil {
			c.logger.Warn("session: journal configuration failed", "error", err)
		}
	}

	c.logger.Info("session: configuration data received",
		"major", cfg.MajorVersion,
		"minor", cfg.MinorVersion,
		"update_rate", uint8(cfg.PreferredUpdateRate),
		utils.HexAttr("uwb_config", cfg.UWBConfigData),
	)
	ev := eventFor(types.EventConfiguration, msg, frame)
	ev.Config = &types.ConfigurationSummary{
		MajorVersion:        cfg.MajorVersion,
		MinorVersion:        cfg.MinorVersion,
		PreferredUpdateRate: uint8(cfg.PreferredUpdateRate),
		UWBConfigData:       utils.BytesToHex(cfg.UWBConfigData),
	}
	c.publishEvent(ev)
	c.setState(StateConfigured)

	if len(c.shareable) == 0 {
		c.logger.Info("session: no shareable configuration set; waiting")
		return nil
	}
	if err := c.send(ctx, protocol.NewConfigureAndStart(c.shareable)); err != nil {
		return err
	}
	c.setState(StateStarting)
	return nil
}

func (c *Controller) send(ctx context.Context, msg protocol.Message) error {
	if c.transport == nil {
		return fmt.Errorf("send %s: no transport", msg.ID)
	}
	frame := msg.Bytes()
	utils.LogBLEMessage("TX: ", frame)
	if err := c.transport.Send(ctx, frame); err != nil {
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}
	c.record(ctx, journal.DirectionTX, frame)
	return nil
}

func (c *Controller) record(ctx context.Context, dir journal.Direction, frame []byte) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.InsertFrame(ctx, journal.NewFrame(c.accessory, dir, journal.SourceBLE, frame)); err != nil {
		c.logger.Warn("session: journal frame failed", "direction", dir, "error", err)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	connected := c.connected
	c.mu.Unlock()

	if prev == s {
		return
	}
	c.logger.Debug("session: state change", "from", prev, "to", s)
	if c.publisher == nil {
		return
	}
	err := c.publisher.PublishStatus(types.AccessoryStatus{
		Accessory: c.accessory,
		State:     string(s),
		Connected: connected,
		LastSeen:  time.Now(),
	})
	if err != nil {
		c.logger.Debug("session: status not published", "error", err)
	}
}

func (c *Controller) publishEvent(ev types.AccessoryEvent) {
	if c.publisher == nil {
		return
	}
	ev.Accessory = c.accessory
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := c.publisher.PublishEvent(ev); err != nil {
		c.logger.Debug("session: event not published", "type", ev.Type, "error", err)
	}
}

func eventFor(t types.EventType, msg protocol.Message, frame []byte) types.AccessoryEvent {
	id := uint8(msg.ID)
	return types.AccessoryEvent{Type: t, MessageID: &id, Data: utils.BytesToHex(frame)}
}
