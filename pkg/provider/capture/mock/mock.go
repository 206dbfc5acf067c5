// Package mock provides a test double for capture.Device.
//
// Device replays a fixed list of sample blocks from its own goroutine, the
// same way a hardware backend calls back from its audio thread. When Hold is
// false the stream ends after the last block and Done is closed, so a
// pipeline under test drains and returns on its own.
//
// Example:
//
//	dev := &mock.Device{Rate: 16000, Blocks: [][]float32{block1, block2}}
//	err := dev.Start(ctx, cb)
//	<-dev.Done()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/capture"
)

// Device is a mock implementation of capture.Device and capture.Finite.
type Device struct {
	mu sync.Mutex

	// DeviceName is returned by Name. Defaults to "mock".
	DeviceName string

	// Rate is the sample rate reported with every block.
	Rate float64

	// Blocks are delivered in order, one callback per block.
	Blocks [][]float32

	// Interval, if positive, is slept between blocks.
	Interval time.Duration

	// Hold keeps the stream open after the last block until Stop or ctx
	// cancellation, instead of closing Done.
	Hold bool

	// StartErr, if non-nil, is returned by Start and nothing is delivered.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// FaultCh is returned by Faults. A test sends on it to simulate a
	// device failure after Start.
	FaultCh chan error

	// --- Call records ---

	// StartCallCount is the number of times Start was called.
	StartCallCount int

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	// Delivered is the number of blocks handed to the callback.
	Delivered int

	done    chan struct{}
	stop    chan struct{}
	stopped bool
}

// Start records the call and, unless StartErr is set, launches the delivery
// goroutine.
func (d *Device) Start(ctx context.Context, cb capture.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCallCount++
	if d.StartErr != nil {
		return d.StartErr
	}
	if d.stop != nil {
		return capture.ErrAlreadyStarted
	}
	d.ensureDone()
	d.stop = make(chan struct{})
	go d.run(ctx, cb, d.stop)
	return nil
}

func (d *Device) run(ctx context.Context, cb capture.Callback, stop <-chan struct{}) {
	d.mu.Lock()
	blocks := d.Blocks
	rate := d.Rate
	interval := d.Interval
	hold := d.Hold
	done := d.done
	d.mu.Unlock()
	defer close(done)

	for _, b := range blocks {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}
		cb(b, rate)
		d.mu.Lock()
		d.Delivered++
		d.mu.Unlock()
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}
	if hold {
		select {
		case <-ctx.Done():
		case <-stop:
		}
	}
}

// Stop records the call, halts delivery and waits for the delivery goroutine
// to finish.
func (d *Device) Stop() error {
	d.mu.Lock()
	d.StopCallCount++
	if d.stop != nil && !d.stopped {
		d.stopped = true
		close(d.stop)
	}
	started := d.stop != nil
	done := d.done
	err := d.StopErr
	d.mu.Unlock()
	if started {
		<-done
	}
	return err
}

// Done is closed once the last block has been delivered (or delivery was
// stopped).
func (d *Device) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensureDone()
	return d.done
}

// Faults returns FaultCh.
func (d *Device) Faults() <-chan error { return d.FaultCh }

// Name returns DeviceName or "mock".
func (d *Device) Name() string {
	if d.DeviceName == "" {
		return "mock"
	}
	return d.DeviceName
}

// DeliveredCount returns the number of blocks delivered so far. Thread-safe.
func (d *Device) DeliveredCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Delivered
}

func (d *Device) ensureDone() {
	if d.done == nil {
		d.done = make(chan struct{})
	}
}

var (
	_ capture.Device = (*Device)(nil)
	_ capture.Finite  = (*Device)(nil)
	_ capture.Faulter = (*Device)(nil)
)
