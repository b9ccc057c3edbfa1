package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"uwblink/internal/db/migrate"
	"uwblink/internal/journal"
	"uwblink/internal/protocol"
	"uwblink/internal/session"
)

type fakeStatus struct {
	state  session.State
	config *journal.ConfigurationRecord
}

func (f *fakeStatus) State() session.State { return f.state }

func (f *fakeStatus) Connected() bool { return f.state != session.StateIdle }

func (f *fakeStatus) Configuration() (journal.ConfigurationRecord, bool) {
	if f.config == nil {
		return journal.ConfigurationRecord{}, false
	}
	return *f.config, true
}

func newTestServer(t *testing.T, status StatusSource) (*httptest.Server, journal.Repository) {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := migrate.Run(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := journal.NewRepository(conn)
	srv := NewServer(":0", NewMux(conn, "tag-1", repo, status))
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, repo
}

func mustGetJSON[T any](t *testing.T, client *http.Client, url string, out *T) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var body map[string]string
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Fatalf("body.status=%q want=%q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	ts, _ := newTestServer(t, &fakeStatus{state: session.StateRunning})

	var st Status
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/status", &st)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if st.Accessory != "tag-1" || st.State != "running" || !st.Connected {
		t.Fatalf("status body = %+v", st)
	}
}

func TestStatus_NoSession(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var st Status
	mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/status", &st)
	if st.State != "idle" || st.Connected {
		t.Fatalf("status body = %+v", st)
	}
}

func TestConfiguration(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		ts, _ := newTestServer(t, &fakeStatus{state: session.StateIdle})
		var body map[string]any
		resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/configuration", &body)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status=%d want=404", resp.StatusCode)
		}
	})

	t.Run("from journal", func(t *testing.T) {
		ts, repo := newTestServer(t, &fakeStatus{state: session.StateIdle})
		c := protocol.ConfigurationData{MajorVersion: 1, MinorVersion: 2, UWBConfigData: []byte{0xCA, 0xFE}}
		if err := repo.InsertConfiguration(context.Background(), "tag-1", time.Now(), c); err != nil {
			t.Fatalf("InsertConfiguration: %v", err)
		}

		var got Configuration
		resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/configuration", &got)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d", resp.StatusCode)
		}
		if got.MajorVersion != 1 || got.MinorVersion != 2 || got.UWBConfigData != "CAFE" || got.Time.IsZero() {
			t.Fatalf("configuration = %+v", got)
		}
	})

	t.Run("from session", func(t *testing.T) {
		received := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
		live := &journal.ConfigurationRecord{
			Time:   received,
			Config: protocol.ConfigurationData{MajorVersion: 3, UWBConfigData: []byte{0x01}},
		}
		ts, _ := newTestServer(t, &fakeStatus{state: session.StateConfigured, config: live})

		var got Configuration
		mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/configuration", &got)
		if got.MajorVersion != 3 || got.UWBConfigData != "01" {
			t.Fatalf("configuration = %+v", got)
		}
		if !got.Time.Equal(received) {
			t.Errorf("time = %v; want %v", got.Time, received)
		}
	})
}

func TestFrames(t *testing.T) {
	ts, repo := newTestServer(t, nil)
	ctx := context.Background()
	for _, data := range [][]byte{{0x0A}, {0x02}, {0x99, 0x01}} {
		if _, err := repo.InsertFrame(ctx, journal.NewFrame("tag-1", journal.DirectionRX, journal.SourceBLE, data)); err != nil {
			t.Fatalf("InsertFrame: %v", err)
		}
	}

	var body struct {
		Total int     `json:"total"`
		Limit int     `json:"limit"`
		Items []Frame `json:"items"`
	}
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/frames?limit=2", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body.Total != 3 || body.Limit != 2 || len(body.Items) != 2 {
		t.Fatalf("total=%d limit=%d items=%d", body.Total, body.Limit, len(body.Items))
	}
	// newest first; 0x99 is not a message id
	if body.Items[0].Data != "9901" || body.Items[0].MessageID != nil {
		t.Errorf("items[0] = %+v", body.Items[0])
	}
	if body.Items[1].Data != "02" || body.Items[1].MessageID == nil || *body.Items[1].MessageID != 0x02 {
		t.Errorf("items[1] = %+v", body.Items[1])
	}
}

func TestFrames_BadLimit(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, q := range []string{"abc", "0", "-1", "5000"} {
		var body map[string]any
		resp := mustGetJSON(t, ts.Client(), ts.URL+"/api/v1/frames?limit="+q, &body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s status=%d want=400", q, resp.StatusCode)
		}
		if msg, _ := body["message"].(string); !strings.Contains(msg, "limit") {
			t.Errorf("limit=%s message=%q", q, msg)
		}
	}
}

func captureDefaultLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func newTestHandler(t *testing.T, frames FrameStore) http.Handler {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })
	if frames == nil {
		if _, err := migrate.Run(conn); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		frames = journal.NewRepository(conn)
	}
	return NewServer(":0", NewMux(conn, "tag-1", frames, nil)).Handler
}

func serveRecorded(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRequestLogger(t *testing.T) {
	h := newTestHandler(t, nil)
	logs := captureDefaultLogger(t)

	if rec := serveRecorded(h, healthzPath); rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	if logs.Len() != 0 {
		t.Fatalf("healthz logged: %s", logs.String())
	}

	if rec := serveRecorded(h, "/api/v1/frames?accessory=tag-2&limit=5"); rec.Code != http.StatusOK {
		t.Fatalf("frames status=%d", rec.Code)
	}

	var entry map[string]any
	line := strings.TrimSpace(logs.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log %q: %v", line, err)
	}
	if entry["msg"] != "http: request" || entry["route"] != "GET /api/v1/frames" || entry["accessory"] != "tag-2" {
		t.Errorf("log entry = %v", entry)
	}
	if entry["status"] != float64(http.StatusOK) || entry["level"] != "DEBUG" {
		t.Errorf("log status/level = %v/%v", entry["status"], entry["level"])
	}
}

func TestRequestLogger_UnmatchedRoute(t *testing.T) {
	h := newTestHandler(t, nil)
	logs := captureDefaultLogger(t)

	if rec := serveRecorded(h, "/api/v1/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want=404", rec.Code)
	}
	if !strings.Contains(logs.String(), `"route":"unmatched"`) {
		t.Errorf("log = %s", logs.String())
	}
}

type failingStore struct{ FrameStore }

func (failingStore) CountFrames(context.Context, string) (int, error) {
	return 0, errors.New("disk I/O error")
}

func TestFrames_StoreErrorHidden(t *testing.T) {
	h := newTestHandler(t, failingStore{})
	logs := captureDefaultLogger(t)

	rec := serveRecorded(h, "/api/v1/frames")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want=500", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["message"] != "internal error" {
		t.Errorf("message = %v; want detail hidden", body["message"])
	}
	if !strings.Contains(logs.String(), "disk I/O error") || !strings.Contains(logs.String(), `"level":"WARN"`) {
		t.Errorf("log = %s", logs.String())
	}
}
