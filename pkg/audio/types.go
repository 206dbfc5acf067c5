// Package audio defines the sample, frame, and segment types that flow through
// the earshot pipeline, together with the pure DSP helpers (resampling and
// sample-format conversion) used at the capture boundary.
//
// Everything downstream of the capture callback operates on signed 16-bit mono
// samples at [TargetSampleRate]. Raw capture audio is float32 at whatever rate
// the device reports; it is converted exactly once, by [ResampleInto] followed
// by [AppendPCM16], and never re-converted afterwards.
//
// This package lives under pkg/ because external code (capture backends,
// classifier backends, segment sinks) is expected to consume these types.
package audio

import (
	"fmt"
	"time"
)

const (
	// TargetSampleRate is the rate, in Hz, of every sample past the capture
	// boundary.
	TargetSampleRate = 8000

	// FrameSize is the number of samples in one classifier [Frame].
	FrameSize = 80

	// FrameDuration is the wall-clock duration covered by one [Frame] at
	// [TargetSampleRate].
	FrameDuration = 10 * time.Millisecond
)

// Frame is exactly [FrameSize] samples (10 ms at 8 kHz). Frames are the unit
// the voice activity classifier operates on.
type Frame [FrameSize]int16

// EmitReason records which rule caused a [Segment] to be emitted.
type EmitReason int

const (
	// ReasonSaturated means the segment reached its maximum length while
	// speech was still active and was force-emitted.
	ReasonSaturated EmitReason = iota

	// ReasonSilence means enough consecutive non-speech frames followed a
	// segment that was long enough to keep.
	ReasonSilence
)

// String returns the lower-case name of the reason, suitable for metric
// attributes and file names.
func (r EmitReason) String() string {
	switch r {
	case ReasonSaturated:
		return "saturated"
	case ReasonSilence:
		return "silence"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Segment is one candidate utterance: the ordered samples of every speech
// frame accumulated between activity onset and emission.
//
// A Segment handed to a consumer owns its Samples slice; the producer never
// touches it again.
type Segment struct {
	// Samples holds mono int16 PCM at SampleRate.
	Samples []int16

	// SampleRate in Hz. Always [TargetSampleRate] for segments produced by
	// the segmenter.
	SampleRate int

	// Seq is a 1-based sequence number, unique per segmenter instance.
	Seq uint64

	// Offset is the stream position of the first accumulated frame, measured
	// from the first frame the segmenter observed.
	Offset time.Duration

	// Frames is the number of frames accumulated into Samples.
	Frames int

	// Reason identifies the rule that emitted the segment.
	Reason EmitReason
}

// Duration returns the playback length of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Bytes returns the samples as little-endian 16-bit PCM.
func (s Segment) Bytes() []byte {
	return SamplesToBytes(s.Samples)
}
