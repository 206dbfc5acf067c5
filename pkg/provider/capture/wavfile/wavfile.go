// Package wavfile provides a capture.Device that replays a PCM WAV file. It is
// used for offline segmentation of recordings and for reproducible end-to-end
// runs without a microphone.
package wavfile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/MrWong99/earshot/pkg/provider/capture"
)

// BlockDuration is the amount of audio handed to the callback per block,
// roughly one hardware period on common desktop backends.
const BlockDuration = 20 * time.Millisecond

var (
	_ capture.Device = (*Device)(nil)
	_ capture.Finite = (*Device)(nil)
	_ capture.Paced  = (*Device)(nil)
)

// Device replays a decoded WAV file as mono float32 blocks.
type Device struct {
	path     string
	realtime bool

	rate    float64
	samples []float32

	mu     sync.Mutex
	pacer  capture.Pacer
	cancel context.CancelFunc
	done   chan struct{}
}

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithRealtime paces delivery at the file's own sample rate instead of
// delivering blocks as fast as the consumer allows. Without it, replay waits
// on the installed [capture.Pacer] before each block, or runs unthrottled
// when none is set.
func WithRealtime(on bool) Option {
	return func(d *Device) { d.realtime = on }
}

// Open decodes the file at path. Multi-channel files are down-mixed to mono
// by averaging channels.
func Open(path string, opts ...Option) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", path, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("wavfile: %q has no sample rate", path)
	}

	channels := max(buf.Format.NumChannels, 1)
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("wavfile: %q has unsupported bit depth %d", path, depth)
	}

	d := &Device{
		path:    path,
		rate:    float64(buf.Format.SampleRate),
		samples: downmix(buf.Data, channels, depth),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// downmix averages interleaved integer samples into mono float32 scaled to
// [-1, 1).
func downmix(data []int, channels, depth int) []float32 {
	scale := float32(int64(1) << (depth - 1))
	if depth == 8 {
		// 8-bit WAV is unsigned.
		out := make([]float32, len(data)/channels)
		for i := range out {
			var sum float32
			for ch := range channels {
				sum += float32(data[i*channels+ch]-128) / 128
			}
			out[i] = sum / float32(channels)
		}
		return out
	}
	out := make([]float32, len(data)/channels)
	for i := range out {
		var sum float32
		for ch := range channels {
			sum += float32(data[i*channels+ch]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Name returns the file path.
func (d *Device) Name() string { return d.path }

// SampleRate returns the file's sample rate in Hz.
func (d *Device) SampleRate() float64 { return d.rate }

// Len returns the number of mono samples in the file.
func (d *Device) Len() int { return len(d.samples) }

// SetPacer installs the consumer's pacer. It must be called before Start and
// is ignored in realtime mode.
func (d *Device) SetPacer(p capture.Pacer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pacer = p
}

// Start launches replay. A Device can be started once.
func (d *Device) Start(ctx context.Context, cb capture.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return capture.ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	pace := d.pacer
	if d.realtime {
		pace = nil
	}
	go d.replay(ctx, cb, pace)
	return nil
}

func (d *Device) replay(ctx context.Context, cb capture.Callback, pace capture.Pacer) {
	defer close(d.done)

	block := max(int(d.rate*BlockDuration.Seconds()), 1)
	var tick <-chan time.Time
	if d.realtime {
		t := time.NewTicker(BlockDuration)
		defer t.Stop()
		tick = t.C
	}

	for off := 0; off < len(d.samples); off += block {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}
		end := min(off+block, len(d.samples))
		if pace != nil {
			if err := pace(ctx, end-off, d.rate); err != nil {
				return
			}
		}
		cb(d.samples[off:end], d.rate)
	}
}

// Stop cancels replay and waits for the replay goroutine to exit. Stopping a
// Device that was never started releases the decoded samples and returns
// [capture.ErrNotStarted].
func (d *Device) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	if cancel == nil {
		d.samples = nil
		d.mu.Unlock()
		return capture.ErrNotStarted
	}
	d.mu.Unlock()
	cancel()
	<-d.done
	return nil
}

// Done is closed after the last block has been delivered or replay was
// stopped.
func (d *Device) Done() <-chan struct{} { return d.done }
