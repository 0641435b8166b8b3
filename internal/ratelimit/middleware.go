package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/ttsgateway/internal/observe"
)

// DefaultExemptPaths are never rate limited.
var DefaultExemptPaths = []string{
	"/", "/health", "/docs", "/openapi.json", "/redoc",
	"/healthz", "/readyz", "/metrics",
}

// rejection is the JSON body of a 429 response.
type rejection struct {
	Error      string  `json:"error"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

// Middleware returns an [http.Handler] wrapper that runs every non-exempt
// request through l. Admitted requests get X-RateLimit-Limit and
// X-RateLimit-Remaining headers; rejected requests receive 429 with a
// Retry-After header and are counted in m. When exempt is empty,
// [DefaultExemptPaths] applies.
func Middleware(l *Limiter, m *observe.Metrics, exempt ...string) func(http.Handler) http.Handler {
	if len(exempt) == 0 {
		exempt = DefaultExemptPaths
	}
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok || !l.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			client := ClientIP(r)
			res := l.Allow(client)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))

			if !res.Allowed {
				m.RecordRateLimitRejection(r.Context())
				observe.Logger(r.Context()).Warn("rate limit exceeded",
					"client", client, "path", r.URL.Path, "limit", res.Limit)

				h.Set("X-RateLimit-Remaining", "0")
				h.Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
				h.Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				body := rejection{
					Error:      "Too Many Requests",
					Message:    fmt.Sprintf("Rate limit exceeded. Maximum %d requests per minute.", res.Limit),
					RetryAfter: res.RetryAfter.Seconds(),
				}
				if err := json.NewEncoder(w).Encode(body); err != nil {
					slog.Error("ratelimit: failed to encode response", "err", err)
				}
				return
			}

			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
