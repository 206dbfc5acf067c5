package vad

import (
	"fmt"
	"strings"
)

// Mode is the detector aggressiveness. Higher modes reject more borderline
// frames as non-speech. The numeric values match the WebRTC VAD modes 0-3.
type Mode int

const (
	// ModeQuality is the least aggressive mode.
	ModeQuality Mode = iota

	// ModeLowBitrate trades a few missed onsets for fewer false positives.
	ModeLowBitrate

	// ModeAggressive is the default.
	ModeAggressive

	// ModeVeryAggressive rejects the most noise.
	ModeVeryAggressive
)

var modeNames = [...]string{"quality", "low_bitrate", "aggressive", "very_aggressive"}

// String returns the configuration name of the mode.
func (m Mode) String() string {
	if m.IsValid() {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// IsValid reports whether m is one of the defined modes.
func (m Mode) IsValid() bool {
	return m >= ModeQuality && m <= ModeVeryAggressive
}

// ParseMode converts a configuration name such as "aggressive" into a Mode.
// Matching is case-insensitive; "-" and "_" are interchangeable.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range modeNames {
		if name == norm {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("vad: unknown mode %q; valid values: %s", s, strings.Join(modeNames[:], ", "))
}
