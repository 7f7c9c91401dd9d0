package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the autonomy
// switches, the log level, and the universe master switch. Everything else
// (providers, DSNs, bot_name) requires a restart.
type ConfigDiff struct {
	AutonomyChanged bool
	NewAutonomy     AutonomyConfig

	UniverseToggled bool
	UniverseEnabled bool

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Empty reports whether the diff carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.AutonomyChanged && !d.UniverseToggled && !d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Autonomy != new.Autonomy {
		d.AutonomyChanged = true
		d.NewAutonomy = new.Autonomy
	}

	if old.Universe.Enabled != new.Universe.Enabled {
		d.UniverseToggled = true
		d.UniverseEnabled = new.Universe.Enabled
	}

	return d
}
