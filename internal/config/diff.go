package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RateLimitChanged bool
	NewRateLimit     RateLimitConfig

	// RestartRequired is set when a field outside the hot-reloadable set
	// changed. The new value is ignored until the process restarts.
	RestartRequired bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RateLimitChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.RateLimit.Enabled != new.RateLimit.Enabled ||
		old.RateLimit.RequestsPerMinute != new.RateLimit.RequestsPerMinute {
		d.RateLimitChanged = true
		d.NewRateLimit = new.RateLimit
	}

	// Compare the rest with the hot fields neutralised. The bucket map size
	// (max_clients) is fixed at start-up.
	a, b := *old, *new
	a.Server.LogLevel, b.Server.LogLevel = "", ""
	a.RateLimit.Enabled, b.RateLimit.Enabled = false, false
	a.RateLimit.RequestsPerMinute, b.RateLimit.RequestsPerMinute = 0, 0
	d.RestartRequired = a != b

	return d
}
