// Package segment implements the hysteresis state machine that turns a stream
// of classified frames into speech segments.
//
// Each frame is matched against an ordered table of guarded rules; the first
// rule whose guard holds is applied:
//
//	speech  active<MaxActive             -> append frame, active++, inactive=0
//	speech  active>=MaxActive            -> emit (saturated), reset
//	silence inactive<=MaxInactive        -> inactive++
//	silence inactive>MaxInactive, active>MinActive  -> emit (silence), reset
//	silence inactive>MaxInactive, active<=MinActive -> discard, reset
//
// All comparisons are strict, so a segment holding exactly MinActive frames
// is discarded. The frame that triggers an emission or discard is not added
// to the segment and does not increment inactive.
//
// A Machine is not safe for concurrent use.
package segment

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Config holds the thresholds of the machine, all counted in frames.
type Config struct {
	// MinActive is the frame count a segment must exceed to be emitted on
	// the silence path.
	MinActive int `yaml:"min_active_frames"`

	// MaxActive is the frame count at which a still-active segment is
	// force-emitted.
	MaxActive int `yaml:"max_active_frames"`

	// MaxInactive is the number of consecutive silent frames a segment
	// survives; one more ends it.
	MaxInactive int `yaml:"max_inactive_frames"`
}

// DefaultConfig returns 600 ms / 1 s / 350 ms expressed in 10 ms frames.
func DefaultConfig() Config {
	return Config{MinActive: 60, MaxActive: 100, MaxInactive: 35}
}

// Validate reports every inconsistent threshold.
func (c Config) Validate() error {
	var errs []error
	if c.MinActive < 0 {
		errs = append(errs, fmt.Errorf("segment: min_active_frames must be >= 0, got %d", c.MinActive))
	}
	if c.MaxActive <= c.MinActive {
		errs = append(errs, fmt.Errorf("segment: max_active_frames (%d) must exceed min_active_frames (%d)", c.MaxActive, c.MinActive))
	}
	if c.MaxInactive < 0 {
		errs = append(errs, fmt.Errorf("segment: max_inactive_frames must be >= 0, got %d", c.MaxInactive))
	}
	return errors.Join(errs...)
}

// Outcome reports what a Push did.
type Outcome int

const (
	// Appended means the frame joined the current segment.
	Appended Outcome = iota

	// Waiting means a silent frame was counted and nothing else changed.
	// It is also reported when the silence limit resets an empty segment.
	Waiting

	// Emitted means a segment was returned.
	Emitted

	// Discarded means a segment that was too short was dropped.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Waiting:
		return "waiting"
	case Emitted:
		return "emitted"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type input struct {
	frame  *audio.Frame
	speech bool
}

type rule struct {
	name string
	when func(m *Machine, in input) bool
	do   func(m *Machine, in input) (audio.Segment, Outcome)
}

var rules = []rule{
	{
		name: "grow",
		when: func(m *Machine, in input) bool { return in.speech && m.active < m.cfg.MaxActive },
		do:   (*Machine).appendFrame,
	},
	{
		name: "saturate",
		when: func(m *Machine, in input) bool { return in.speech },
		do: func(m *Machine, _ input) (audio.Segment, Outcome) {
			return m.emit(audio.ReasonSaturated), Emitted
		},
	},
	{
		name: "wait",
		when: func(m *Machine, _ input) bool { return m.inactive <= m.cfg.MaxInactive },
		do: func(m *Machine, _ input) (audio.Segment, Outcome) {
			m.inactive++
			return audio.Segment{}, Waiting
		},
	},
	{
		name: "close",
		when: func(m *Machine, _ input) bool { return m.active > m.cfg.MinActive },
		do: func(m *Machine, _ input) (audio.Segment, Outcome) {
			return m.emit(audio.ReasonSilence), Emitted
		},
	},
	{
		name: "discard",
		when: func(*Machine, input) bool { return true },
		do: func(m *Machine, _ input) (audio.Segment, Outcome) {
			dropped := m.active > 0
			m.reset()
			if dropped {
				return audio.Segment{}, Discarded
			}
			return audio.Segment{}, Waiting
		},
	},
}

// Machine accumulates speech frames into segments.
type Machine struct {
	cfg Config

	buf      []int16
	active   int
	inactive int

	clock uint64 // frames observed, including skipped ones
	start uint64 // clock value of the segment's first frame
	seq   uint64
	last  string
}

// New returns a Machine for cfg.
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{cfg: cfg}, nil
}

// Config returns the machine's thresholds.
func (m *Machine) Config() Config { return m.cfg }

// Push feeds one classified frame. When the outcome is Emitted the returned
// segment owns its samples.
func (m *Machine) Push(frame *audio.Frame, speech bool) (audio.Segment, Outcome) {
	in := input{frame: frame, speech: speech}
	defer func() { m.clock++ }()
	for _, r := range rules {
		if r.when(m, in) {
			m.last = r.name
			return r.do(m, in)
		}
	}
	panic("segment: no rule matched")
}

// Skip advances the frame clock for a frame that could not be classified.
// Counters and the buffered segment are left untouched.
func (m *Machine) Skip() { m.clock++ }

// Active returns the number of frames in the current segment.
func (m *Machine) Active() int { return m.active }

// Inactive returns the number of consecutive silent frames counted.
func (m *Machine) Inactive() int { return m.inactive }

// Buffered returns the number of samples held for the current segment.
func (m *Machine) Buffered() int { return len(m.buf) }

// LastRule returns the name of the rule applied by the most recent Push.
func (m *Machine) LastRule() string { return m.last }

// Frames returns the number of frames observed so far.
func (m *Machine) Frames() uint64 { return m.clock }

func (m *Machine) appendFrame(in input) (audio.Segment, Outcome) {
	if m.active == 0 {
		m.start = m.clock
		if m.buf == nil {
			m.buf = make([]int16, 0, m.cfg.MaxActive*audio.FrameSize)
		}
	}
	m.buf = append(m.buf, in.frame[:]...)
	m.active++
	m.inactive = 0
	return audio.Segment{}, Appended
}

func (m *Machine) emit(reason audio.EmitReason) audio.Segment {
	m.seq++
	seg := audio.Segment{
		Samples:    slices.Clone(m.buf),
		SampleRate: audio.TargetSampleRate,
		Seq:        m.seq,
		Offset:     time.Duration(m.start) * audio.FrameDuration,
		Frames:     m.active,
		Reason:     reason,
	}
	m.reset()
	return seg
}

func (m *Machine) reset() {
	m.buf = m.buf[:0]
	m.active = 0
	m.inactive = 0
}
