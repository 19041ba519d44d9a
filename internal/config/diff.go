package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: process-wide
// provider selection, the dead-air defaults, and the log level. Agent
// snapshots are loaded per call from the document store and are never part
// of this config, so they are unaffected by a reload (§9: config changes
// apply to new calls only).
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProvidersChanged bool
	ProviderChanges  []ProviderDiff

	DeadAirChanged bool
}

// ProviderDiff describes what changed for a single provider slot.
type ProviderDiff struct {
	Kind string // "llm", "stt", "tts", "telephony"
	Old  string // previous provider name
	New  string // new provider name
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	diffProvider(&d, "llm", old.Providers.LLM.Name, new.Providers.LLM.Name)
	diffProvider(&d, "stt", old.Providers.STT.Name, new.Providers.STT.Name)
	diffProvider(&d, "tts", old.Providers.TTS.Name, new.Providers.TTS.Name)
	diffProvider(&d, "telephony", old.Providers.Telephony.Name, new.Providers.Telephony.Name)

	if old.DeadAir != new.DeadAir {
		d.DeadAirChanged = true
	}

	return d
}

func diffProvider(d *ConfigDiff, kind, oldName, newName string) {
	if oldName == newName {
		return
	}
	d.ProvidersChanged = true
	d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{Kind: kind, Old: oldName, New: newName})
}
