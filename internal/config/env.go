package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TTS_GATEWAY_"

// LookupFunc has the signature of [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// envBinding maps one variable (without prefix) to a field setter.
type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"HOST", func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{"PORT", intVar(func(c *Config) *int { return &c.Server.Port })},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Server.LogLevel = LogLevel(strings.ToLower(v)); return nil }},
	{"MOCK_MODE", boolVar(func(c *Config) *bool { return &c.MockMode })},

	{"QWEN3_TTS_URL", func(c *Config, v string) error { c.Backends.Qwen3TTS.URL = v; return nil }},
	{"QWEN3_TTS_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Backends.Qwen3TTS.Timeout })},
	{"QWEN3_TTS_ENABLED", boolVar(func(c *Config) *bool { return &c.Backends.Qwen3TTS.Enabled })},
	{"INDEXTTS_URL", func(c *Config, v string) error { c.Backends.IndexTTS.URL = v; return nil }},
	{"INDEXTTS_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Backends.IndexTTS.Timeout })},
	{"INDEXTTS_ENABLED", boolVar(func(c *Config) *bool { return &c.Backends.IndexTTS.Enabled })},
	{"STATUS_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Backends.StatusTimeout })},

	{"RATE_LIMIT_ENABLED", boolVar(func(c *Config) *bool { return &c.RateLimit.Enabled })},
	{"RATE_LIMIT_REQUESTS_PER_MINUTE", intVar(func(c *Config) *int { return &c.RateLimit.RequestsPerMinute })},
	{"RATE_LIMIT_MAX_CLIENTS", intVar(func(c *Config) *int { return &c.RateLimit.MaxClients })},

	{"METADATA_DRIVER", func(c *Config, v string) error { c.Metadata.Driver = MetadataDriver(strings.ToLower(v)); return nil }},
	{"METADATA_PATH", func(c *Config, v string) error { c.Metadata.Path = v; return nil }},
	{"METADATA_POSTGRES_DSN", func(c *Config, v string) error { c.Metadata.PostgresDSN = v; return nil }},
	{"METADATA_REDIS_ADDR", func(c *Config, v string) error { c.Metadata.RedisAddr = v; return nil }},
}

// ApplyEnv overrides cfg with every TTS_GATEWAY_* variable that lookup
// reports as set. Malformed values are collected into a joined error; the
// remaining overrides are still applied.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
		}
	}
	return errors.Join(errs...)
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// durationVar accepts Go durations ("90s") and bare numbers of seconds ("90").
func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			*field(c) = time.Duration(secs * float64(time.Second))
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
