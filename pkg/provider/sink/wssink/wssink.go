// Package wssink provides a sink.Sink that forwards segments to a remote
// inference service over a WebSocket.
//
// Each segment is sent as two messages: a JSON text frame carrying the
// [Header], followed by one binary frame of little-endian 16-bit mono PCM.
// The sink never reads application messages from the peer; it only watches
// for the connection closing.
package wssink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/sink"
)

const defaultWriteTimeout = 10 * time.Second

var _ sink.Sink = (*Sink)(nil)

// Header describes the PCM frame that follows it.
type Header struct {
	Type       string  `json:"type"`
	Seq        uint64  `json:"seq"`
	SampleRate int     `json:"sample_rate"`
	Samples    int     `json:"samples"`
	Frames     int     `json:"frames"`
	OffsetMs   int64   `json:"offset_ms"`
	DurationMs float64 `json:"duration_ms"`
	Reason     string  `json:"reason"`
}

// HeaderFor builds the header sent ahead of seg.
func HeaderFor(seg audio.Segment) Header {
	return Header{
		Type:       "segment",
		Seq:        seg.Seq,
		SampleRate: seg.SampleRate,
		Samples:    len(seg.Samples),
		Frames:     seg.Frames,
		OffsetMs:   seg.Offset.Milliseconds(),
		DurationMs: float64(seg.Duration()) / float64(time.Millisecond),
		Reason:     seg.Reason.String(),
	}
}

// Sink streams segments over one WebSocket connection.
type Sink struct {
	url          string
	writeTimeout time.Duration

	conn   *websocket.Conn
	peer   context.Context
	mu     sync.Mutex
	closed bool
}

// Option is a functional option for configuring a Sink.
type Option func(*Sink)

// WithWriteTimeout bounds the time spent writing one segment.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Dial connects to url and returns a ready Sink.
func Dial(ctx context.Context, url string, opts ...Option) (*Sink, error) {
	if url == "" {
		return nil, errors.New("wssink: url must not be empty")
	}
	s := &Sink{url: url, writeTimeout: defaultWriteTimeout}
	for _, o := range opts {
		o(s)
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wssink: dial %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 16)
	s.conn = conn
	s.peer = conn.CloseRead(context.Background())
	return s, nil
}

// Consume writes the header and the PCM payload for seg. If the peer has
// closed the connection the returned error wraps [sink.ErrClosed].
func (s *Sink) Consume(ctx context.Context, seg audio.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.peer.Err() != nil {
		return fmt.Errorf("wssink: %w", sink.ErrClosed)
	}

	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if err := wsjson.Write(wctx, s.conn, HeaderFor(seg)); err != nil {
		return s.wrap("write header", err)
	}
	if err := s.conn.Write(wctx, websocket.MessageBinary, seg.Bytes()); err != nil {
		return s.wrap("write pcm", err)
	}
	return nil
}

func (s *Sink) wrap(op string, err error) error {
	if websocket.CloseStatus(err) != -1 || s.peer.Err() != nil {
		return fmt.Errorf("wssink: %s: %w: %w", op, sink.ErrClosed, err)
	}
	return fmt.Errorf("wssink: %s: %w", op, err)
}

// Close sends a normal closure to the peer.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.conn.Close(websocket.StatusNormalClosure, "segmenter shutting down")
	if err != nil && websocket.CloseStatus(err) == -1 && s.peer.Err() == nil {
		return fmt.Errorf("wssink: close: %w", err)
	}
	return nil
}

// Name returns "websocket".
func (s *Sink) Name() string { return "websocket" }
