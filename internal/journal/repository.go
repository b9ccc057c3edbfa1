package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"uwblink/internal/protocol"
)

//go:embed sql/insert-frame.sql
var insertFrameSQL string

//go:embed sql/list-frames.sql
var listFramesSQL string

//go:embed sql/count-frames.sql
var countFramesSQL string

//go:embed sql/insert-configuration.sql
var insertConfigurationSQL string

//go:embed sql/get-latest-configuration.sql
var getLatestConfigurationSQL string

type Direction string

const (
	DirectionTX Direction = "tx"
	DirectionRX Direction = "rx"
)

// Source values record which path observed a frame.
const (
	SourceBLE    = "ble"
	SourceSerial = "serial"
)

var ErrNotFound = errors.New("not found")

// Frame is one journaled NUS frame. MessageID is nil when the first byte is
// not a known message id.
type Frame struct {
	ID        int64
	Accessory string
	Time      time.Time
	Direction Direction
	Source    string
	MessageID *protocol.MessageID
	Data      []byte
	Note      string
}

// NewFrame fills MessageID from data when it decodes.
func NewFrame(accessory string, dir Direction, source string, data []byte) Frame {
	f := Frame{
		Accessory: accessory,
		Time:      time.Now(),
		Direction: dir,
		Source:    source,
		Data:      append([]byte(nil), data...),
	}
	if len(data) > 0 {
		if id := protocol.MessageID(data[0]); id.Valid() {
			f.MessageID = &id
		}
	}
	return f
}

type ConfigurationRecord struct {
	Time   time.Time
	Config protocol.ConfigurationData
}

type Repository interface {
	InsertFrame(ctx context.Context, f Frame) (int64, error)
	ListFrames(ctx context.Context, accessory string, limit int) ([]Frame, error)
	CountFrames(ctx context.Context, accessory string) (int, error)
	InsertConfiguration(ctx context.Context, accessory string, ts time.Time, c protocol.ConfigurationData) error
	LatestConfiguration(ctx context.Context, accessory string) (ConfigurationRecord, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertFrame(ctx context.Context, f Frame) (int64, error) {
	if f.Direction != DirectionTX && f.Direction != DirectionRX {
		return 0, fmt.Errorf("invalid direction %q", f.Direction)
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	if f.Data == nil {
		f.Data = []byte{}
	}

	var msgID any
	if f.MessageID != nil {
		msgID = int64(*f.MessageID)
	}
	var note any
	if f.Note != "" {
		note = f.Note
	}

	res, err := r.db.ExecContext(ctx, insertFrameSQL,
		f.Accessory, f.Time.UTC().Format(time.RFC3339Nano), string(f.Direction), f.Source, msgID, f.Data, note)
	if err != nil {
		return 0, fmt.Errorf("insert frame: %w", err)
	}
	return res.LastInsertId()
}

// ListFrames returns the newest frames first.
func (r *repositoryImpl) ListFrames(ctx context.Context, accessory string, limit int) ([]Frame, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, listFramesSQL, accessory, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close frames rows", "error", err)
		}
	}()

	var out []Frame
	for rows.Next() {
		var (
			f     Frame
			ts    string
			dir   string
			msgID sql.NullInt64
			note  sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Accessory, &ts, &dir, &f.Source, &msgID, &f.Data, &note); err != nil {
			return nil, err
		}
		if f.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		f.Direction = Direction(dir)
		if msgID.Valid {
			id := protocol.MessageID(msgID.Int64)
			f.MessageID = &id
		}
		f.Note = note.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) CountFrames(ctx context.Context, accessory string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, countFramesSQL, accessory).Scan(&n)
	return n, err
}

func (r *repositoryImpl) InsertConfiguration(ctx context.Context, accessory string, ts time.Time, c protocol.ConfigurationData) error {
	uwb := c.UWBConfigData
	if uwb == nil {
		uwb = []byte{}
	}
	_, err := r.db.ExecContext(ctx, insertConfigurationSQL,
		accessory, ts.UTC().Format(time.RFC3339Nano),
		int64(c.MajorVersion), int64(c.MinorVersion), int64(c.PreferredUpdateRate), uwb)
	if err != nil {
		return fmt.Errorf("insert configuration: %w", err)
	}
	return nil
}

func (r *repositoryImpl) LatestConfiguration(ctx context.Context, accessory string) (ConfigurationRecord, error) {
	var (
		rec          ConfigurationRecord
		ts           string
		major, minor int64
		rate         int64
	)
	err := r.db.QueryRowContext(ctx, getLatestConfigurationSQL, accessory).
		Scan(&ts, &major, &minor, &rate, &rec.Config.UWBConfigData)
	if errors.Is(err, sql.ErrNoRows) {
		return ConfigurationRecord{}, fmt.Errorf("configuration for %q: %w", accessory, ErrNotFound)
	}
	if err != nil {
		return ConfigurationRecord{}, err
	}
	if rec.Time, err = parseTime(ts); err != nil {
		return ConfigurationRecord{}, err
	}
	rec.Config.MajorVersion = uint16(major)
	rec.Config.MinorVersion = uint16(minor)
	rec.Config.PreferredUpdateRate = protocol.UpdateRate(rate)
	return rec, nil
}

func parseTime(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339, ts)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: RFC3339Nano: %w; RFC3339: %w", ts, err, err2)
		}
	}
	return t, nil
}
