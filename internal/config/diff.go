package config

import "slices"

// Diff describes what changed between two configs. Only the log level can be
// applied to a running process; every other changed section is listed in
// Restart.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Restart names the top-level sections whose changes take effect only
	// after a restart, in file order.
	Restart []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && len(d.Restart) == 0
}

// Compare returns what changed from old to new.
func Compare(old, new *Config) Diff {
	var d Diff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	changed := map[string]bool{
		"server":    old.Server.ListenAddr != new.Server.ListenAddr,
		"capture":   !sameCapture(old.Capture, new.Capture),
		"vad":       old.VAD != new.VAD,
		"segmenter": old.Segmenter != new.Segmenter,
		"pipeline":  old.Pipeline != new.Pipeline,
		"sink":      old.Sink != new.Sink,
		"telemetry": old.Telemetry != new.Telemetry,
	}
	for _, section := range sections {
		if changed[section] {
			d.Restart = append(d.Restart, section)
		}
	}
	return d
}

var sections = []string{"server", "capture", "vad", "segmenter", "pipeline", "sink", "telemetry"}

func sameCapture(a, b CaptureConfig) bool {
	return a.Backend == b.Backend &&
		a.Device == b.Device &&
		a.SampleRate == b.SampleRate &&
		a.Path == b.Path &&
		a.IsRealtime() == b.IsRealtime() &&
		a.Discord == b.Discord
}

// RequiresRestart reports whether section is listed in d.Restart.
func (d Diff) RequiresRestart(section string) bool {
	return slices.Contains(d.Restart, section)
}
