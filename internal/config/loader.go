package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// Load reads the YAML file at path, applies environment overrides and
// returns the validated result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := build(data)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like [Load] but tolerates a missing file when path is
// empty or [DefaultPath]: the built-in defaults (plus environment overrides)
// are used instead and fromFile is false. A missing file at any other path is
// an error.
func LoadOrDefault(path string) (cfg *Config, fromFile bool, err error) {
	if path == "" {
		path = DefaultPath
	}
	cfg, err = Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case path == DefaultPath && errors.Is(err, fs.ErrNotExist):
		slog.Warn("config file not found, using defaults", "path", path)
		cfg, err = build(nil)
		return cfg, false, err
	default:
		return nil, false, err
	}
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Environment overrides are not applied. An empty
// document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// build is the full pipeline used for files: decode, environment, validate.
func build(data []byte) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}

	names := map[string]string{backend.IDQwen3TTS: "backends.qwen3_tts", backend.IDIndexTTS: "backends.indextts"}
	enabled := 0
	for _, e := range cfg.Backends.Entries() {
		if !e.Enabled {
			continue
		}
		enabled++
		prefix := names[e.ID]
		if e.URL == "" && !cfg.MockMode {
			errs = append(errs, fmt.Errorf("%s.url is required when the backend is enabled", prefix))
		}
		if e.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must be positive", prefix))
		}
	}
	if enabled == 0 {
		slog.Warn("no backend enabled; every synthesis request will fail")
	}
	if cfg.Backends.StatusTimeout <= 0 {
		errs = append(errs, errors.New("backends.status_timeout must be positive"))
	}

	if cfg.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_minute %d must be positive", cfg.RateLimit.RequestsPerMinute))
	}
	if cfg.RateLimit.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.max_clients %d must not be negative", cfg.RateLimit.MaxClients))
	}

	switch cfg.Metadata.Driver {
	case DriverFile:
		if cfg.Metadata.Path == "" {
			errs = append(errs, errors.New("metadata.path is required for the file driver"))
		}
	case DriverPostgres:
		if cfg.Metadata.PostgresDSN == "" {
			errs = append(errs, errors.New("metadata.postgres_dsn is required for the postgres driver"))
		}
	case DriverRedis:
		if cfg.Metadata.RedisAddr == "" {
			errs = append(errs, errors.New("metadata.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("metadata.driver %q is invalid; valid values: file, postgres, redis", cfg.Metadata.Driver))
	}

	if cfg.Upload.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_size %d must be positive", cfg.Upload.MaxSize))
	}

	cb := cfg.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("circuit_breaker values must not be negative"))
	}

	return errors.Join(errs...)
}
