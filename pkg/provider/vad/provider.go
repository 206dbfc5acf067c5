// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (WebRTC VAD, an energy gate,
// or a custom model) and surfaces it as a stateful, per-stream session. Each
// session keeps its own detector state so that independent audio streams never
// share history.
//
// VAD is synchronous by design: IsSpeech returns immediately with a boolean
// classification, making it suitable for the segmentation loop that calls it
// once per 10 ms frame.
//
// Engines must be safe for concurrent use across sessions. A single
// SessionHandle must not be shared across goroutines.
package vad

import "errors"

var (
	// ErrFrameSize is returned by IsSpeech when the frame length does not
	// match the session's SampleRate and FrameSizeMs.
	ErrFrameSize = errors.New("vad: unexpected frame size")

	// ErrClosed is returned by IsSpeech after Close.
	ErrClosed = errors.New("vad: session closed")

	// ErrClassifier wraps every per-frame classification failure surfaced by
	// [Classifier]. Callers treat it as non-fatal.
	ErrClassifier = errors.New("vad: classification failed")
)

// Config holds the parameters for a VAD session. They are fixed for the
// lifetime of the session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to IsSpeech. earshot always uses 8000.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds. Most VAD
	// models operate on fixed frame sizes (10, 20, or 30 ms).
	FrameSizeMs int

	// Mode selects the aggressiveness of the detector.
	Mode Mode
}

// FrameLength returns the number of samples per frame implied by cfg.
func (c Config) FrameLength() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations without
// a live engine.
type SessionHandle interface {
	// IsSpeech classifies a single frame of mono int16 samples. The frame
	// must contain exactly Config.FrameLength samples; otherwise
	// [ErrFrameSize] is returned.
	IsSpeech(frame []int16) (bool, error)

	// Reset clears all accumulated detection state without closing the
	// session.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is unsupported by the backend.
	NewSession(cfg Config) (SessionHandle, error)
}
