// Package httpapi serves a small read-only view of the link: health, session
// state, the latest accessory configuration and the frame journal.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"uwblink/internal/journal"
	"uwblink/internal/session"
	"uwblink/internal/utils"
)

const maxFramesLimit = 1000

type FrameStore interface {
	ListFrames(ctx context.Context, accessory string, limit int) ([]journal.Frame, error)
	CountFrames(ctx context.Context, accessory string) (int, error)
	LatestConfiguration(ctx context.Context, accessory string) (journal.ConfigurationRecord, error)
}

// StatusSource is satisfied by *session.Controller.
type StatusSource interface {
	State() session.State
	Connected() bool
	Configuration() (journal.ConfigurationRecord, bool)
}

type Status struct {
	Accessory string `json:"accessory"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

type Frame struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Source    string    `json:"source"`
	MessageID *uint8    `json:"messageId,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      string    `json:"data"`
	Note      string    `json:"note,omitempty"`
}

type Configuration struct {
	Time                time.Time `json:"time"`
	MajorVersion        uint16    `json:"majorVersion"`
	MinorVersion        uint16    `json:"minorVersion"`
	PreferredUpdateRate uint8     `json:"preferredUpdateRate"`
	UWBConfigData       string    `json:"uwbConfigData"`
}

// errBadRequest marks errors caused by the request's query parameters.
var errBadRequest = errors.New("bad request")

type handlers struct {
	db        *sql.DB
	accessory string
	frames    FrameStore
	status    StatusSource
}

// handlerFunc returns an error instead of writing one; wrap maps it to a
// status code.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func NewMux(db *sql.DB, accessory string, frames FrameStore, status StatusSource) *http.ServeMux {
	h := &handlers{db: db, accessory: accessory, frames: frames, status: status}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthzPath, wrap(h.handleHealthz))
	mux.HandleFunc("GET /api/v1/status", wrap(h.handleStatus))
	mux.HandleFunc("GET /api/v1/configuration", wrap(h.handleConfiguration))
	mux.HandleFunc("GET /api/v1/frames", wrap(h.handleFrames))
	return mux
}

func wrap(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(w, r, err)
		}
	}
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) error {
	var ok int
	if err := h.db.QueryRowContext(r.Context(), `SELECT 1`).Scan(&ok); err != nil {
		return fmt.Errorf("database connectivity: %w", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

func (h *handlers) handleStatus(w http.ResponseWriter, _ *http.Request) error {
	st := Status{Accessory: h.accessory, State: string(session.StateIdle)}
	if h.status != nil {
		st.State = string(h.status.State())
		st.Connected = h.status.Connected()
	}
	writeJSON(w, http.StatusOK, st)
	return nil
}

// handleConfiguration prefers the live session's copy and falls back to the
// journal, so the last configuration survives restarts.
func (h *handlers) handleConfiguration(w http.ResponseWriter, r *http.Request) error {
	if h.status != nil {
		if rec, ok := h.status.Configuration(); ok {
			writeJSON(w, http.StatusOK, toConfiguration(rec))
			return nil
		}
	}

	rec, err := h.frames.LatestConfiguration(r.Context(), h.accessory)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toConfiguration(rec))
	return nil
}

func (h *handlers) handleFrames(w http.ResponseWriter, r *http.Request) error {
	limit, err := parseLimit(r)
	if err != nil {
		return err
	}
	accessory := h.accessory
	if a := r.URL.Query().Get("accessory"); a != "" {
		accessory = a
	}

	total, err := h.frames.CountFrames(r.Context(), accessory)
	if err != nil {
		return fmt.Errorf("count frames: %w", err)
	}
	frames, err := h.frames.ListFrames(r.Context(), accessory, limit)
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}

	items := make([]Frame, 0, len(frames))
	for _, f := range frames {
		items = append(items, toFrame(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessory": accessory,
		"total":     total,
		"limit":     limit,
		"items":     items,
	})
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 100, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid 'limit' (expected integer)", errBadRequest)
	}
	if n <= 0 || n > maxFramesLimit {
		return 0, fmt.Errorf("%w: 'limit' must be in 1..%d", errBadRequest, maxFramesLimit)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("http: encode response", "error", err)
	}
}

// writeError maps handler errors: request errors and journal misses carry
// their message, anything else is logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, errBadRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, journal.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	default:
		slog.Error("http: handler failed", "route", r.Pattern, "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	})
}

func toFrame(f journal.Frame) Frame {
	out := Frame{
		ID:        f.ID,
		Time:      f.Time,
		Direction: string(f.Direction),
		Source:    f.Source,
		Data:      utils.BytesToHex(f.Data),
		Note:      f.Note,
	}
	if f.MessageID != nil {
		id := uint8(*f.MessageID)
		out.MessageID = &id
		out.Message = f.MessageID.String()
	}
	return out
}

func toConfiguration(rec journal.ConfigurationRecord) Configuration {
	c := rec.Config
	return Configuration{
		Time:                rec.Time,
		MajorVersion:        c.MajorVersion,
		MinorVersion:        c.MinorVersion,
		PreferredUpdateRate: uint8(c.PreferredUpdateRate),
		UWBConfigData:       utils.BytesToHex(c.UWBConfigData),
	}
}
