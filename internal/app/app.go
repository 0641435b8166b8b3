// Package app wires the gateway subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown drains the
// server and tears everything down in order.
//
// For testing, inject doubles via functional options (WithMetadataStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/ttsgateway/internal/api"
	"github.com/MrWong99/ttsgateway/internal/config"
	"github.com/MrWong99/ttsgateway/internal/gateway"
	"github.com/MrWong99/ttsgateway/internal/health"
	"github.com/MrWong99/ttsgateway/internal/observe"
	"github.com/MrWong99/ttsgateway/internal/ratelimit"
	"github.com/MrWong99/ttsgateway/internal/registry"
	"github.com/MrWong99/ttsgateway/internal/resilience"
	"github.com/MrWong99/ttsgateway/internal/voicemeta"
	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// readHeaderTimeout bounds how long a client may take to send headers.
// Synthesis itself can legitimately run for minutes, so there is no overall
// write timeout.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	adapters []backend.Adapter

	// Subsystems, initialised in New.
	metrics  *observe.Metrics
	registry *registry.Registry
	store    voicemeta.Store
	meta     *voicemeta.Manager
	limiter  *ratelimit.Limiter
	service  *gateway.Service
	handler  http.Handler
	server   *http.Server

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetadataStore injects a voice metadata store instead of opening the
// configured one. The app still closes it on Shutdown.
func WithMetadataStore(s voicemeta.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments instead of using
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The adapters come
// from main (built via the config registry) in routing preference order; New
// puts a circuit breaker in front of each one.
func New(ctx context.Context, cfg *config.Config, adapters []backend.Adapter, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, adapters: adapters}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.initRegistry()

	if err := a.initMetadata(ctx); err != nil {
		return nil, fmt.Errorf("app: init metadata: %w", err)
	}

	if err := a.initLimiter(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init rate limiter: %w", err)
	}

	a.service = gateway.New(a.registry, a.meta,
		gateway.WithMetrics(a.metrics),
		gateway.WithMaxUploadSize(cfg.Upload.MaxSize),
	)
	a.initHTTP()

	return a, nil
}

func (a *App) initRegistry() {
	cb := a.cfg.CircuitBreaker
	a.registry = registry.New()
	for _, ad := range a.adapters {
		a.registry.Register(ad.ID(), resilience.Guard(ad, resilience.GuardConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
			Metrics:      a.metrics,
		}))
	}
	if a.registry.Len() == 0 {
		slog.Warn("no TTS backend registered")
	}
}

func (a *App) initMetadata(ctx context.Context) error {
	if a.store == nil {
		s, err := openStore(ctx, a.cfg.Metadata)
		if err != nil {
			return err
		}
		a.store = s
		slog.Info("voice metadata store opened", "driver", a.cfg.Metadata.Driver)
	}
	a.meta = voicemeta.NewManager(a.store)
	a.closers = append(a.closers, a.meta.Close)
	return nil
}

// openStore opens the store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.MetadataConfig) (voicemeta.Store, error) {
	switch cfg.Driver {
	case config.DriverFile:
		return voicemeta.NewFileStore(cfg.Path)
	case config.DriverPostgres:
		return voicemeta.NewPostgresStore(ctx, cfg.PostgresDSN)
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		var opts []voicemeta.RedisOption
		if cfg.RedisPrefix != "" {
			opts = append(opts, voicemeta.WithPrefix(cfg.RedisPrefix))
		}
		s := voicemeta.NewRedisStore(client, opts...)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown metadata driver %q", cfg.Driver)
	}
}

func (a *App) initLimiter() error {
	rl := a.cfg.RateLimit
	l, err := ratelimit.New(rl.RequestsPerMinute, rl.MaxClients)
	if err != nil {
		return err
	}
	l.SetEnabled(rl.Enabled)
	a.limiter = l
	return nil
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()
	api.New(a.service).Register(mux)
	health.New(
		health.Store(a.meta),
		health.Backends(a.service.AnyOnline),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = api.Handler(mux, a.metrics, a.limiter)
	a.server = &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Service returns the orchestration service.
func (a *App) Service() *gateway.Service { return a.service }

// Limiter returns the request rate limiter.
func (a *App) Limiter() *ratelimit.Limiter { return a.limiter }

// Reload applies the hot-reloadable part of a config change. Changes that
// need a restart are logged and otherwise ignored.
func (a *App) Reload(d config.ConfigDiff) error {
	if d.RateLimitChanged {
		if err := a.limiter.SetLimit(d.NewRateLimit.RequestsPerMinute); err != nil {
			return fmt.Errorf("app: reload rate limit: %w", err)
		}
		a.limiter.SetEnabled(d.NewRateLimit.Enabled)
		slog.Info("rate limit updated",
			"enabled", d.NewRateLimit.Enabled,
			"requests_per_minute", d.NewRateLimit.RequestsPerMinute)
	}
	if d.RestartRequired {
		slog.Warn("config changes outside log level and rate limit take effect after a restart")
	}
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled.
// It returns ctx.Err() on a normal stop or the listener error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run with a caller-provided listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logBackendStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(ln)
	}()
	slog.Info("tts gateway listening", "addr", ln.Addr().String(), "backends", a.registry.IDs())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logBackendStatus probes every backend once and logs whether it is online.
func (a *App) logBackendStatus(ctx context.Context) {
	for _, e := range a.registry.Statuses(ctx) {
		if e.Status.Online {
			slog.Info("backend online", "id", e.Adapter.ID(), "url", e.Adapter.BaseURL(),
				"model_loaded", e.Status.ModelLoaded)
			continue
		}
		slog.Warn("backend offline", "id", e.Adapter.ID(), "url", e.Adapter.BaseURL(),
			"err", e.Status.Error)
	}
}

// Shutdown stops accepting requests, waits for in-flight ones within the
// context deadline, then runs the closers. If ctx expires first, the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
}
