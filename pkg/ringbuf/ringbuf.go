// Package ringbuf provides a fixed-capacity, lock-free ring buffer for exactly
// one producer goroutine and one consumer goroutine.
//
// The producer side ([Ring.Push], [Ring.Write]) never blocks and never
// allocates, which makes it safe to call from an audio driver callback. Both
// sides signal full/empty conditions with [ErrFull] and [ErrEmpty] instead of
// waiting. Using more than one producer or more than one consumer at a time is
// a data race.
package ringbuf

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
)

var (
	// ErrFull is returned by the producer side when there is not enough free
	// space. The buffer contents are left untouched.
	ErrFull = errors.New("ringbuf: full")

	// ErrEmpty is returned by the consumer side when not enough elements are
	// available. Nothing is consumed.
	ErrEmpty = errors.New("ringbuf: empty")
)

// cacheLine keeps the two cursors on separate cache lines so producer and
// consumer do not invalidate each other's line on every update.
const cacheLine = 64

// Ring is a single-producer/single-consumer queue. The zero value is not
// usable; create one with [New].
type Ring[T any] struct {
	buf  []T
	mask uint64

	_    [cacheLine]byte
	head atomic.Uint64 // next slot to read; written only by the consumer
	_    [cacheLine - 8]byte
	tail atomic.Uint64 // next slot to write; written only by the producer
	_    [cacheLine - 8]byte
}

// New returns a Ring that holds at least capacity elements. The capacity is
// rounded up to the next power of two. New panics if capacity is not
// positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("ringbuf: capacity must be positive, got %d", capacity))
	}
	size := uint64(1) << bits.Len64(uint64(capacity-1))
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// Cap returns the number of elements the ring can hold.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of elements currently available to the consumer.
// Called from the consumer it is a lower bound; from the producer an upper
// bound.
func (r *Ring[T]) Len() int {
	h := r.head.Load()
	t := r.tail.Load()
	return int(t - h)
}

// Free returns the number of slots currently available to the producer.
func (r *Ring[T]) Free() int {
	return len(r.buf) - r.Len()
}

// Push appends v. Producer side only.
func (r *Ring[T]) Push(v T) error {
	t := r.tail.Load()
	if t-r.head.Load() == uint64(len(r.buf)) {
		return ErrFull
	}
	r.buf[t&r.mask] = v
	r.tail.Store(t + 1)
	return nil
}

// Pop removes and returns the oldest element. Consumer side only.
func (r *Ring[T]) Pop() (T, error) {
	h := r.head.Load()
	if r.tail.Load() == h {
		var zero T
		return zero, ErrEmpty
	}
	v := r.buf[h&r.mask]
	r.head.Store(h + 1)
	return v, nil
}

// Write appends all of p, or nothing: if p does not fit into the free space
// it returns [ErrFull] without writing a single element. Producer side only.
func (r *Ring[T]) Write(p []T) error {
	if len(p) == 0 {
		return nil
	}
	t := r.tail.Load()
	free := uint64(len(r.buf)) - (t - r.head.Load())
	if uint64(len(p)) > free {
		return ErrFull
	}
	start := int(t & r.mask)
	n := copy(r.buf[start:], p)
	copy(r.buf, p[n:])
	r.tail.Store(t + uint64(len(p)))
	return nil
}

// Read fills p completely with the oldest elements, or returns [ErrEmpty]
// without consuming anything if fewer than len(p) are available. Consumer
// side only.
func (r *Ring[T]) Read(p []T) error {
	if len(p) == 0 {
		return nil
	}
	h := r.head.Load()
	if r.tail.Load()-h < uint64(len(p)) {
		return ErrEmpty
	}
	start := int(h & r.mask)
	n := copy(p, r.buf[start:])
	copy(p[n:], r.buf)
	r.head.Store(h + uint64(len(p)))
	return nil
}
