package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/ttsgateway/internal/observe"
	"github.com/MrWong99/ttsgateway/internal/ratelimit"
)

// RequestIDHeader identifies a request in logs and responses.
const RequestIDHeader = "X-Request-ID"

// exposedHeaders are readable by browser clients.
var exposedHeaders = strings.Join([]string{
	"X-Model-Used", "X-Request-ID", "X-Response-Time", "X-Correlation-ID",
	"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After",
	"Content-Disposition",
}, ", ")

// Chain wraps h so that the first middleware is the outermost.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// timingWriter stamps X-Response-Time when the status line is written and
// remembers the status for the access log.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	status      int
	wroteHeader bool
}

func (w *timingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.status = code
		w.Header().Set("X-Response-Time", fmt.Sprintf("%.2fms", float64(time.Since(w.start).Microseconds())/1000))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (w *timingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// AccessLog logs one line per request. Server errors log at error level,
// client errors at warn, everything else at info. The request id is taken
// from the X-Request-ID header or generated, and travels in the request
// context so [observe.Logger] includes it.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := observe.WithRequestID(r.Context(), id)
		inner := r.WithContext(ctx)

		tw := &timingWriter{ResponseWriter: w, start: time.Now(), status: http.StatusOK}
		next.ServeHTTP(tw, inner)
		// The mux records the matched route on the request it served; the
		// metrics middleware further out reads it from r.
		r.Pattern = inner.Pattern

		level := slog.LevelInfo
		switch {
		case tw.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case tw.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		observe.Logger(ctx).Log(ctx, level, "http request",
			"client", ratelimit.ClientIP(r),
			"method", r.Method,
			"path", r.URL.Path,
			"status", tw.status,
			"duration", time.Since(tw.start),
		)
	})
}

// CORS allows every origin. Preflight requests are answered directly.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Expose-Headers", exposedHeaders)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
				h.Set("Access-Control-Allow-Headers", req)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler assembles the full middleware stack around mux: telemetry, access
// log, CORS and rate limiting, outermost first.
func Handler(mux *http.ServeMux, m *observe.Metrics, l *ratelimit.Limiter) http.Handler {
	return Chain(mux,
		observe.Middleware(m),
		AccessLog,
		CORS,
		ratelimit.Middleware(l, m),
	)
}
