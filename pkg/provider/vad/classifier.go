package vad

import (
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Classifier adapts a [SessionHandle] to the fixed-size [audio.Frame] the
// segmentation loop produces. It is not safe for concurrent use.
type Classifier struct {
	session SessionHandle
}

// NewClassifier wraps session. The session must have been created with a
// Config whose FrameLength equals [audio.FrameSize].
func NewClassifier(session SessionHandle) *Classifier {
	return &Classifier{session: session}
}

// Classify reports whether frame contains speech. Any backend failure is
// returned wrapped in [ErrClassifier].
func (c *Classifier) Classify(frame *audio.Frame) (bool, error) {
	speech, err := c.session.IsSpeech(frame[:])
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrClassifier, err)
	}
	return speech, nil
}

// Close closes the wrapped session.
func (c *Classifier) Close() error {
	return c.session.Close()
}
