// Command ttsgateway serves the OpenAI-compatible TTS gateway in front of the
// configured synthesis engines.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/ttsgateway/internal/app"
	"github.com/MrWong99/ttsgateway/internal/config"
	"github.com/MrWong99/ttsgateway/internal/gateway"
	"github.com/MrWong99/ttsgateway/internal/observe"
	"github.com/MrWong99/ttsgateway/pkg/backend"
	"github.com/MrWong99/ttsgateway/pkg/backend/indextts"
	"github.com/MrWong99/ttsgateway/pkg/backend/mock"
	"github.com/MrWong99/ttsgateway/pkg/backend/qwen"
)

// kindMock is the registry kind used for every backend in mock mode.
const kindMock = "mock"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ttsgateway: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("tts gateway starting",
		"version", gateway.Version,
		"config", *configPath,
		"from_file", fromFile,
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
		"mock_mode", cfg.MockMode,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "ttsgateway",
		ServiceVersion: gateway.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	adapters, err := buildBackends(cfg, reg)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, adapters)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if fromFile {
		w, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
			d := config.Diff(old, updated)
			if d.Empty() {
				return
			}
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level updated", "level", d.NewLogLevel)
			}
			if err := application.Reload(d); err != nil {
				slog.Error("config reload failed", "err", err)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinBackends wires the adapter factories that ship with the
// gateway into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.Register(backend.IDQwen3TTS, func(e config.BackendEntry) (backend.Adapter, error) {
		return qwen.New(e.URL, qwen.WithTimeout(e.Timeout), qwen.WithStatusTimeout(e.StatusTimeout))
	})
	reg.Register(backend.IDIndexTTS, func(e config.BackendEntry) (backend.Adapter, error) {
		return indextts.New(e.URL, indextts.WithTimeout(e.Timeout), indextts.WithStatusTimeout(e.StatusTimeout))
	})
	reg.Register(kindMock, func(e config.BackendEntry) (backend.Adapter, error) {
		return mock.New(e.ID), nil
	})

	slog.Debug("registered backend kinds", "kinds", reg.Kinds())
}

// buildBackends instantiates every enabled backend in routing order. In mock
// mode each entry is backed by an in-process mock under the same id.
func buildBackends(cfg *config.Config, reg *config.Registry) ([]backend.Adapter, error) {
	var adapters []backend.Adapter
	for _, entry := range cfg.Backends.Entries() {
		if !entry.Enabled {
			slog.Info("backend disabled", "id", entry.ID)
			continue
		}
		kind := entry.ID
		if cfg.MockMode {
			kind = kindMock
		}
		a, err := reg.Create(kind, entry)
		if err != nil {
			return nil, err
		}
		slog.Info("backend created", "id", entry.ID, "kind", kind, "url", entry.URL, "timeout", entry.Timeout)
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
