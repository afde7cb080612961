package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InstructionsChanged is true when the system instruction changed.
	// Applies from the next session; active sessions keep their setup.
	InstructionsChanged bool

	// PersonasChanged is true when a persona voice or label changed.
	PersonasChanged bool

	// LeadChanged is true when any lead destination changed. Applying it
	// requires rebuilding the sink fan-out.
	LeadChanged bool
}

// Any reports whether the diff contains any change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.InstructionsChanged || d.PersonasChanged || d.LeadChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Intake.Instructions != new.Intake.Instructions {
		d.InstructionsChanged = true
	}
	if old.Intake.Personas != new.Intake.Personas {
		d.PersonasChanged = true
	}
	if old.Lead != new.Lead {
		d.LeadChanged = true
	}

	return d
}
