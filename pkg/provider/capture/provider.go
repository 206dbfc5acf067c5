// Package capture defines the Device interface for audio capture backends.
//
// A capture device delivers blocks of mono float32 samples, normalised to
// [-1, 1], at whatever rate the hardware (or file) reports. Delivery happens on
// a callback invoked from the backend's own thread at hardware cadence. The
// callback must return quickly and must not block: it is expected to resample,
// convert and hand the block to a lock-free buffer, nothing more.
//
// The samples slice passed to the callback is only valid for the duration of
// the call. Backends reuse it for the next block.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyStarted is returned by Start when the device is running.
	ErrAlreadyStarted = errors.New("capture: device already started")

	// ErrNotStarted is returned by Stop when the device was never started.
	ErrNotStarted = errors.New("capture: device not started")
)

// Callback receives one block of mono float32 samples at sampleRate Hz.
type Callback func(samples []float32, sampleRate float64)

// Device is an audio source. Implementations must tolerate Stop being called
// from a different goroutine than Start.
type Device interface {
	// Start begins delivering blocks to cb and returns once delivery is under
	// way. Delivery continues until Stop is called or ctx is cancelled.
	Start(ctx context.Context, cb Callback) error

	// Stop halts delivery and releases the device. After Stop returns no
	// further callbacks are made. Calling Stop more than once is safe.
	Stop() error

	// Name identifies the device in logs.
	Name() string
}

// Finite is implemented by devices whose stream ends on its own, such as file
// replay. Done is closed after the last callback has returned.
type Finite interface {
	Done() <-chan struct{}
}

// Faulter is implemented by devices that can fail after Start returned, for
// example when the hardware is unplugged. A value on Faults ends the
// pipeline with a device error.
type Faulter interface {
	Faults() <-chan error
}

// Pacer blocks until the consumer can accept a block of n samples at rate
// Hz, or returns ctx's error once ctx is done.
type Pacer func(ctx context.Context, n int, rate float64) error

// Paced is implemented by devices that can produce faster than real time,
// such as file replay. The consumer installs a Pacer before Start and the
// device calls it ahead of every block instead of overrunning the buffer.
type Paced interface {
	SetPacer(Pacer)
}
