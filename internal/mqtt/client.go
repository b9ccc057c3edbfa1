package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"uwblink/internal/config"
	"uwblink/internal/types"
	"uwblink/internal/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected  = errors.New("mqtt client not connected")
	ErrClientStopped = errors.New("client stopped")
)

const (
	publishTimeout = 5 * time.Second

	// MQTT 3.1 brokers may reject longer client identifiers; paho falls back
	// to 3.1 when 3.1.1 is refused.
	maxClientIDLen = 23
)

type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	clientID, truncated := boundedClientID(cfg.MQTTClientID)
	if truncated {
		logger.Warn("mqtt client id truncated", "configured", cfg.MQTTClientID, "used", clientID)
	}
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Broker marks the accessory offline if this process dies.
	offline, _ := json.Marshal(types.AccessoryStatus{Accessory: cfg.AccessoryName, State: "offline"})
	opts.SetWill(StatusTopic(cfg.AccessoryName), string(offline), 1, true)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func boundedClientID(id string) (string, bool) {
	var buf [maxClientIDLen]byte
	n, truncated := utils.StringToByteArray(id, buf[:])
	return string(buf[:n]), truncated
}

func EventsTopic(accessory string) string { return fmt.Sprintf("accessories/%s/events", accessory) }

func StatusTopic(accessory string) string { return fmt.Sprintf("accessories/%s/status", accessory) }

// Connect waits for the initial connection and respects ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrClientStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry(true) paho keeps retrying internally until the token completes.
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrClientStopped
		default:
		}
	}
}

// PublishEvent publishes ev (QoS 1) to accessories/<name>/events.
func (c *Client) PublishEvent(ev types.AccessoryEvent) error {
	if ev.Accessory == "" {
		ev.Accessory = c.cfg.AccessoryName
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return c.publish(EventsTopic(ev.Accessory), false, ev)
}

// PublishStatus publishes st retained to accessories/<name>/status.
func (c *Client) PublishStatus(st types.AccessoryStatus) error {
	if st.Accessory == "" {
		st.Accessory = c.cfg.AccessoryName
	}
	if st.LastSeen.IsZero() {
		st.LastSeen = time.Now()
	}
	return c.publish(StatusTopic(st.Accessory), true, st)
}

func (c *Client) publish(topic string, retained bool, v any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := c.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("mqtt publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	c.logger.Debug("mqtt published", "topic", topic, "retained", retained, "size", len(data))
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection.
// Idempotent. After Disconnect, Connect returns ErrClientStopped.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
