// Package console follows the accessory's USB serial console and journals the
// frames it logs in hex.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"uwblink/internal/journal"
)

const (
	readTimeout = 500 * time.Millisecond
	maxLineLen  = 4096

	// AutoPort selects the first USB serial bridge commonly found on ESP32 boards.
	AutoPort = "auto"
)

// USB vendor ids of ESP32 dev-board serial bridges: Espressif native USB,
// Silicon Labs CP210x, WCH CH340, FTDI.
var esp32VIDs = map[string]bool{"303A": true, "10C4": true, "1A86": true, "0403": true}

var ErrNoPort = errors.New("console: no esp32 serial port found")

type FrameJournal interface {
	InsertFrame(ctx context.Context, f journal.Frame) (int64, error)
}

type Monitor struct {
	port      string
	baud      int
	accessory string
	journal   FrameJournal
	logger    *slog.Logger
}

func NewMonitor(port string, baud int, accessory string, j FrameJournal, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		port:      port,
		baud:      baud,
		accessory: accessory,
		journal:   j,
		logger:    logger.With("component", "console"),
	}
}

// FindPort returns the first USB serial port whose vendor id belongs to an
// ESP32 board bridge.
func FindPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}
	for _, p := range ports {
		if p.IsUSB && esp32VIDs[strings.ToUpper(p.VID)] {
			return p.Name, nil
		}
	}
	return "", ErrNoPort
}

// Run opens the serial port and consumes it until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	name := m.port
	if name == AutoPort {
		var err error
		if name, err = FindPort(); err != nil {
			return err
		}
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: m.baud})
	if err != nil {
		return fmt.Errorf("open serial %s: %w", name, err)
	}
	defer port.Close()
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return fmt.Errorf("serial read timeout: %w", err)
	}

	m.logger.Info("console: monitoring", "port", name, "baud", m.baud)
	err = m.Consume(ctx, port)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Consume reads newline-terminated lines from r until ctx is done or r
// returns an error. A read of zero bytes with no error (serial timeout) just
// polls ctx again. io.EOF ends consumption cleanly.
func (m *Monitor) Consume(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 256)
	var pending []byte
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				m.handleLine(ctx, string(pending[:i]))
				pending = pending[i+1:]
			}
			if len(pending) > maxLineLen {
				m.logger.Warn("console: discarding overlong line", "len", len(pending))
				pending = pending[:0]
			}
		}
		if errors.Is(err, io.EOF) {
			if len(pending) > 0 {
				m.handleLine(ctx, string(pending))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

func (m *Monitor) handleLine(ctx context.Context, line string) {
	line = strings.TrimRight(line, "\r")
	label, data, ok := ParseLogLine(line)
	if !ok {
		if strings.TrimSpace(line) != "" {
			m.logger.Debug("console: accessory output", "line", line)
		}
		return
	}

	f := journal.NewFrame(m.accessory, directionFor(label), journal.SourceSerial, data)
	f.Note = strings.TrimSpace(label)
	m.logger.Debug("console: frame", "label", f.Note, "direction", f.Direction, "len", len(data))

	if m.journal == nil {
		return
	}
	if _, err := m.journal.InsertFrame(ctx, f); err != nil {
		m.logger.Warn("console: journal frame failed", "error", err)
	}
}

// directionFor maps an accessory-side label onto the host's point of view:
// what the accessory transmits is received here.
func directionFor(label string) journal.Direction {
	if strings.HasSuffix(label, "RX: ") {
		return journal.DirectionTX
	}
	return journal.DirectionRX
}
