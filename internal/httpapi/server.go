package httpapi

import (
	"log/slog"
	"net/http"
	"time"
)

const healthzPath = "/healthz"

func NewServer(addr string, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(p)
	sr.bytes += n
	return n, err
}

// requestLogger logs API requests by matched route rather than raw path.
// Health checks are polled by supervisors and are not logged. Server errors
// are logged at warn, everything else at debug.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthzPath {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		// ServeMux sets Pattern on the request it dispatches.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		attrs := []any{
			"route", route,
			"status", sr.status,
			"bytes", sr.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if a := r.URL.Query().Get("accessory"); a != "" {
			attrs = append(attrs, "accessory", a)
		}

		level := slog.LevelDebug
		if sr.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http: request", attrs...)
	})
}
