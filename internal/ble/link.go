package ble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"uwblink/internal/protocol"
)

const (
	// ATT default MTU; the payload of a write is MTU minus the 3-byte ATT header.
	defaultMTU    = 23
	attHeaderSize = 3

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 30 * time.Second
	inboundQueueSize  = 16

	// Bounds the handler's Shutdown when ctx ends; the link is still up then.
	shutdownTimeout = 2 * time.Second
)

var (
	ErrNotConnected  = errors.New("ble: not connected")
	ErrFrameTooLarge = errors.New("ble: frame exceeds mtu payload")
	ErrNoAccessory   = errors.New("ble: no accessory found")
)

// Handler receives link lifecycle and inbound NUS frames. Calls are serialized
// on the goroutine running Link.Run. Shutdown runs when ctx ends while the
// accessory is still connected, so it can still Send.
type Handler interface {
	LinkUp(ctx context.Context) error
	LinkDown()
	HandleFrame(ctx context.Context, frame []byte) error
	Shutdown(ctx context.Context) error
}

// gattWriter is the accessory's RX characteristic.
type gattWriter interface {
	Write(p []byte) (int, error)
}

type Options struct {
	Adapter     string // "hci0" by default
	LocalName   string // optional; otherwise match on the NUS service uuid
	ScanTimeout time.Duration
}

// Link is a BLE central connection to one NUS accessory.
type Link struct {
	adapter *bluetooth.Adapter
	opts    Options

	serviceUUID bluetooth.UUID
	rxUUID      bluetooth.UUID
	txUUID      bluetooth.UUID

	mu      sync.Mutex
	device  *bluetooth.Device
	address bluetooth.Address
	rx      gattWriter
	mtu     uint16
	lost    chan struct{}
}

func NewLink(opts Options) (*Link, error) {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	l := &Link{
		adapter: bluetooth.NewAdapter(opts.Adapter),
		opts:    opts,
	}
	var err error
	if l.serviceUUID, err = bluetooth.ParseUUID(protocol.NUSServiceUUID); err != nil {
		return nil, fmt.Errorf("parse service uuid: %w", err)
	}
	if l.rxUUID, err = bluetooth.ParseUUID(protocol.NUSRxCharUUID); err != nil {
		return nil, fmt.Errorf("parse rx uuid: %w", err)
	}
	if l.txUUID, err = bluetooth.ParseUUID(protocol.NUSTxCharUUID); err != nil {
		return nil, fmt.Errorf("parse tx uuid: %w", err)
	}
	return l, nil
}

// Run enables the adapter and keeps one accessory connected until ctx ends,
// reconnecting with exponential backoff.
func (l *Link) Run(ctx context.Context, h Handler) error {
	slog.Info("ble: enabling adapter", "adapter", l.opts.Adapter)
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", l.opts.Adapter, err)
	}

	l.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.device != nil && device.Address == l.address && l.lost != nil {
			close(l.lost)
			l.lost = nil
		}
	})

	delay := reconnectDelay
	for {
		err := l.session(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("ble: link attempt failed", "error", err, "retry_in", delay)
		} else {
			delay = reconnectDelay
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = nextDelay(delay)
	}
}

// session runs one scan/connect/serve cycle. It returns nil after a
// connection that was established and later lost.
func (l *Link) session(ctx context.Context, h Handler) error {
	addr, err := l.scan(ctx)
	if err != nil {
		return err
	}

	slog.Info("ble: connecting", "addr", addr.String())
	device, err := l.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("ble connect %s: %w", addr.String(), err)
	}
	defer func() {
		l.mu.Lock()
		l.device = nil
		l.lost = nil
		l.mu.Unlock()
		_ = device.Disconnect()
	}()

	rx, tx, err := l.discover(device)
	if err != nil {
		return err
	}

	mtu, err := rx.GetMTU()
	if err != nil || mtu < defaultMTU {
		mtu = defaultMTU
	}

	lost := make(chan struct{})
	l.mu.Lock()
	l.device = &device
	l.address = addr
	l.rx = rx
	l.mtu = mtu
	l.lost = lost
	l.mu.Unlock()

	inbound := make(chan []byte, inboundQueueSize)
	if err := tx.EnableNotifications(func(buf []byte) {
		frame := append([]byte(nil), buf...)
		select {
		case inbound <- frame:
		default:
			slog.Warn("ble: inbound queue full, dropping frame", "len", len(frame))
		}
	}); err != nil {
		return fmt.Errorf("ble enable notifications: %w", err)
	}

	slog.Info("ble: link up", "addr", addr.String(), "mtu", mtu)
	serve(ctx, h, inbound, lost)
	return nil
}

// serve delivers inbound frames to h until ctx ends or the link is lost.
// On ctx end h.Shutdown runs before LinkDown, while the device is still
// connected; the deferred disconnect in session runs after serve returns.
func serve(ctx context.Context, h Handler, inbound <-chan []byte, lost <-chan struct{}) {
	if err := h.LinkUp(ctx); err != nil {
		slog.Warn("ble: link up handler failed", "error", err)
	}
	defer h.LinkDown()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := h.Shutdown(shutdownCtx); err != nil {
				slog.Warn("ble: shutdown handler failed", "error", err)
			}
			cancel()
			return
		case <-lost:
			slog.Warn("ble: link lost")
			return
		case frame := <-inbound:
			if err := h.HandleFrame(ctx, frame); err != nil {
				slog.Debug("ble: frame handler error", "error", err)
			}
		}
	}
}

func (l *Link) scan(ctx context.Context) (bluetooth.Address, error) {
	scanCtx := ctx
	if l.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, l.opts.ScanTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-scanCtx.Done():
			_ = l.adapter.StopScan()
		case <-done:
		}
	}()

	slog.Info("ble: scanning", "local_name", l.opts.LocalName, "service", protocol.NUSServiceUUID)

	var (
		mu    sync.Mutex
		found bool
		addr  bluetooth.Address
	)
	err := l.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		if !matches(r.LocalName(), r.HasServiceUUID(l.serviceUUID), l.opts.LocalName) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if found {
			return
		}
		found = true
		addr = r.Address
		slog.Info("ble: accessory found", "addr", r.Address.String(), "name", r.LocalName(), "rssi", r.RSSI)
		_ = a.StopScan()
	})
	mu.Lock()
	defer mu.Unlock()
	if found {
		return addr, nil
	}
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("ble scan: %w", err)
	}
	if ctx.Err() != nil {
		return bluetooth.Address{}, ctx.Err()
	}
	return bluetooth.Address{}, ErrNoAccessory
}

func (l *Link) discover(device bluetooth.Device) (rx, tx bluetooth.DeviceCharacteristic, err error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{l.serviceUUID})
	if err != nil {
		return rx, tx, fmt.Errorf("ble discover services: %w", err)
	}
	if len(services) == 0 {
		return rx, tx, errors.New("ble: nus service not found")
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{l.rxUUID, l.txUUID})
	if err != nil {
		return rx, tx, fmt.Errorf("ble discover characteristics: %w", err)
	}
	var haveRX, haveTX bool
	for _, c := range chars {
		switch c.UUID() {
		case l.rxUUID:
			rx, haveRX = c, true
		case l.txUUID:
			tx, haveTX = c, true
		}
	}
	if !haveRX || !haveTX {
		return rx, tx, fmt.Errorf("ble: nus characteristics missing (rx=%v tx=%v)", haveRX, haveTX)
	}
	return rx, tx, nil
}

// Send writes one frame to the accessory's RX characteristic as a write with
// response, so a frame the accessory never acknowledged is reported as an
// error. Frames that do not fit in a single write are rejected rather than cut.
func (l *Link) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	connected := l.device != nil
	rx := l.rx
	mtu := l.mtu
	l.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if err := checkFrameSize(len(frame), mtu); err != nil {
		return err
	}
	n, err := rx.Write(frame)
	if err != nil {
		return fmt.Errorf("ble write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("ble write: %w (%d of %d)", io.ErrShortWrite, n, len(frame))
	}
	return nil
}

func matches(localName string, hasService bool, wantName string) bool {
	if wantName != "" {
		return localName == wantName
	}
	return hasService
}

func maxPayload(mtu uint16) int {
	if mtu < defaultMTU {
		mtu = defaultMTU
	}
	return int(mtu) - attHeaderSize
}

func checkFrameSize(n int, mtu uint16) error {
	if limit := maxPayload(mtu); n > limit {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limit)
	}
	return nil
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}
