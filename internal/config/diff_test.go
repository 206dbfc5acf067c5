package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func baseConfig() *config.Config {
	return config.Default()
}

func TestCompare(t *testing.T) {
	t.Parallel()
	no := false
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		logLevel bool
		restart  []string
	}{
		{"no changes", func(*config.Config) {}, false, nil},
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, true, nil},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, false, []string{"server"}},
		{"realtime default vs explicit true", func(c *config.Config) {
			yes := true
			c.Capture.Realtime = &yes
		}, false, nil},
		{"realtime off", func(c *config.Config) { c.Capture.Realtime = &no }, false, []string{"capture"}},
		{"discord channel", func(c *config.Config) { c.Capture.Discord.ChannelID = "789" }, false, []string{"capture"}},
		{"several", func(c *config.Config) {
			c.Server.LogLevel = config.LogWarn
			c.Segmenter.MaxInactive = 10
			c.Sink.Backend = "wav"
			c.VAD.Mode = "quality"
		}, true, []string{"vad", "segmenter", "sink"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, updated := baseConfig(), baseConfig()
			tc.mutate(updated)
			d := config.Compare(old, updated)

			if d.LogLevelChanged != tc.logLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.logLevel)
			}
			if tc.logLevel && d.NewLogLevel != updated.Server.LogLevel {
				t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, updated.Server.LogLevel)
			}
			if !slices.Equal(d.Restart, tc.restart) {
				t.Errorf("Restart = %v, want %v", d.Restart, tc.restart)
			}
			if d.Empty() != (!tc.logLevel && len(tc.restart) == 0) {
				t.Errorf("Empty() = %v", d.Empty())
			}
			for _, s := range tc.restart {
				if !d.RequiresRestart(s) {
					t.Errorf("RequiresRestart(%q) = false", s)
				}
			}
		})
	}
}
