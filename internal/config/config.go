// Package config provides the configuration schema, loader, environment
// overrides and backend factory registry for the TTS gateway.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// DefaultPath is where [LoadOrDefault] looks for the config file when no
// path is given.
const DefaultPath = "config/config.yaml"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MetadataDriver selects the voice metadata store implementation.
type MetadataDriver string

const (
	DriverFile     MetadataDriver = "file"
	DriverPostgres MetadataDriver = "postgres"
	DriverRedis    MetadataDriver = "redis"
)

// IsValid reports whether d names a supported store.
func (d MetadataDriver) IsValid() bool {
	switch d {
	case DriverFile, DriverPostgres, DriverRedis:
		return true
	}
	return false
}

// Config is the root configuration structure. Load it with [Load],
// [LoadFromReader] or [LoadOrDefault]; start from [Default] when building one
// in code.
type Config struct {
	Server         ServerConfig    `yaml:"server"`
	Backends       BackendsConfig  `yaml:"backends"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Metadata       MetadataConfig  `yaml:"metadata"`
	Upload         UploadConfig    `yaml:"upload"`
	CircuitBreaker BreakerConfig   `yaml:"circuit_breaker"`

	// MockMode replaces every enabled backend with an in-process mock that
	// produces a sine tone. Useful for development without GPU engines.
	MockMode bool `yaml:"mock_mode"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	LogLevel LogLevel `yaml:"log_level"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BackendsConfig lists the TTS engines the gateway can route to.
type BackendsConfig struct {
	Qwen3TTS BackendEntry `yaml:"qwen3_tts"`
	IndexTTS BackendEntry `yaml:"indextts"`

	// StatusTimeout bounds each status probe, independently of the
	// synthesis timeouts.
	StatusTimeout time.Duration `yaml:"status_timeout"`
}

// Entries returns the backend entries with their ids filled in, in routing
// preference order.
func (b BackendsConfig) Entries() []BackendEntry {
	q, i := b.Qwen3TTS, b.IndexTTS
	q.ID, i.ID = backend.IDQwen3TTS, backend.IDIndexTTS
	q.StatusTimeout, i.StatusTimeout = b.StatusTimeout, b.StatusTimeout
	return []BackendEntry{q, i}
}

// BackendEntry configures a single engine. It is also the input of the
// factories held by [Registry].
type BackendEntry struct {
	// ID is the backend identifier. It is derived from the entry's position
	// in [BackendsConfig], never read from YAML.
	ID string `yaml:"-"`

	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Enabled bool          `yaml:"enabled"`

	// StatusTimeout is copied from [BackendsConfig.StatusTimeout].
	StatusTimeout time.Duration `yaml:"-"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`

	// MaxClients bounds the number of tracked client buckets. The least
	// recently seen client is forgotten first.
	MaxClients int `yaml:"max_clients"`
}

// MetadataConfig selects and configures the voice metadata store.
type MetadataConfig struct {
	Driver MetadataDriver `yaml:"driver"`

	// Path is the JSON file used by the file driver.
	Path string `yaml:"path"`

	// PostgresDSN is used by the postgres driver.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisAddr and RedisPrefix are used by the redis driver.
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// UploadConfig bounds voice uploads.
type UploadConfig struct {
	// MaxSize is the largest accepted reference clip in bytes.
	MaxSize int64 `yaml:"max_size"`
}

// BreakerConfig tunes the circuit breaker in front of each backend.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000, LogLevel: LogInfo},
		Backends: BackendsConfig{
			Qwen3TTS:      BackendEntry{URL: "http://localhost:8019", Timeout: 60 * time.Second, Enabled: true},
			IndexTTS:      BackendEntry{URL: "http://localhost:8080", Timeout: 120 * time.Second, Enabled: true},
			StatusTimeout: backend.DefaultStatusTimeout,
		},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 60, MaxClients: 10000},
		Metadata: MetadataConfig{
			Driver:      DriverFile,
			Path:        "data/voice_metadata.json",
			RedisPrefix: "ttsgateway",
		},
		Upload:         UploadConfig{MaxSize: 10 << 20},
		CircuitBreaker: BreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 1},
	}
}
