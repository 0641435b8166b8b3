package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/ttsgateway/internal/observe"
)

func newTestHandler(t *testing.T, l *Limiter) http.Handler {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(l, m)(ok)
}

func get(h http.Handler, path, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Forwarded-For", client)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Headers(t *testing.T) {
	h := newTestHandler(t, mustNew(t, 2, 0, newFakeClock()))

	rec := get(h, "/v1/models", "1.2.3.4")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Errorf("X-RateLimit-Remaining = %q, want 1", got)
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	h := newTestHandler(t, mustNew(t, 60, 0, newFakeClock()))

	for i := range 60 {
		if rec := get(h, "/v1/audio/speech", "9.9.9.9"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := get(h, "/v1/audio/speech", "9.9.9.9")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "60" {
		t.Errorf("X-RateLimit-Limit = %q, want 60", got)
	}

	var body rejection
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "Too Many Requests" || body.RetryAfter != 1.0 || body.Message == "" {
		t.Errorf("body = %+v", body)
	}

	// Another client is unaffected.
	if rec := get(h, "/v1/audio/speech", "8.8.8.8"); rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestMiddleware_ExemptPaths(t *testing.T) {
	l := mustNew(t, 1, 0, newFakeClock())
	h := newTestHandler(t, l)

	for _, path := range DefaultExemptPaths {
		for range 3 {
			rec := get(h, path, "5.5.5.5")
			if rec.Code != http.StatusOK {
				t.Errorf("%s: status = %d, want 200", path, rec.Code)
			}
			if rec.Header().Get("X-RateLimit-Limit") != "" {
				t.Errorf("%s: exempt path carries rate limit headers", path)
			}
		}
	}
	if l.Tracked() != 0 {
		t.Errorf("Tracked = %d, exempt paths must not create buckets", l.Tracked())
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	l := mustNew(t, 1, 0, newFakeClock())
	l.SetEnabled(false)
	h := newTestHandler(t, l)

	for range 5 {
		if rec := get(h, "/v1/voices", "7.7.7.7"); rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 while disabled", rec.Code)
		}
	}

	l.SetEnabled(true)
	get(h, "/v1/voices", "7.7.7.7")
	if rec := get(h, "/v1/voices", "7.7.7.7"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 once re-enabled", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff, xreal string
		remote     string
		want       string
	}{
		{"forwarded first entry", "203.0.113.7, 10.0.0.1", "198.51.100.1", "127.0.0.1:5000", "203.0.113.7"},
		{"real ip", "", "198.51.100.1", "127.0.0.1:5000", "198.51.100.1"},
		{"peer address", "", "", "192.0.2.10:41234", "192.0.2.10"},
		{"ipv6 peer", "", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"blank forwarded entry falls through", " , 10.0.0.1", "", "192.0.2.10:1", "192.0.2.10"},
		{"nothing", "", "", "", UnknownClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xreal != "" {
				req.Header.Set("X-Real-IP", tt.xreal)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
