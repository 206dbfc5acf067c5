// Package malgo provides a capture.Device backed by miniaudio through the
// gen2brain/malgo cgo bindings. It opens a mono float32 capture stream on the
// default (or a named) input device and forwards every hardware period to the
// pipeline callback.
package malgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/earshot/pkg/provider/capture"
)

var (
	_ capture.Device  = (*Device)(nil)
	_ capture.Faulter = (*Device)(nil)
)

// Device captures from a system input device.
type Device struct {
	name       string
	sampleRate uint32

	mu       sync.Mutex
	actx     *malgo.AllocatedContext
	dev      *malgo.Device
	stopCtx  func() bool
	rate     float64
	scratch  []float32
	callback capture.Callback
	stopping atomic.Bool

	faults chan error
}

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithDevice selects the input device whose name contains name
// (case-insensitive). An empty name selects the system default.
func WithDevice(name string) Option {
	return func(d *Device) { d.name = name }
}

// WithSampleRate requests a capture rate in Hz. Zero lets the device pick
// its native rate; the rate actually granted is reported to the callback.
func WithSampleRate(hz int) Option {
	return func(d *Device) {
		if hz > 0 {
			d.sampleRate = uint32(hz)
		}
	}
}

// New creates a Device. The audio backend is not touched until Start.
func New(opts ...Option) *Device {
	d := &Device{faults: make(chan error, 1)}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name returns the configured device name or "default".
func (d *Device) Name() string {
	if d.name == "" {
		return "default"
	}
	return d.name
}

// Start initialises miniaudio, opens the capture device and starts the
// stream. Cancelling ctx stops the device.
func (d *Device) Start(ctx context.Context, cb capture.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev != nil {
		return capture.ErrAlreadyStarted
	}

	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = d.sampleRate
	cfg.Alsa.NoMMap = 1

	if d.name != "" {
		id, err := findDevice(actx, d.name)
		if err != nil {
			freeContext(actx)
			return err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	d.callback = cb
	d.stopping.Store(false)
	dev, err := malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		freeContext(actx)
		return fmt.Errorf("malgo: init device %q: %w", d.Name(), err)
	}
	d.rate = float64(dev.SampleRate())
	if err := dev.Start(); err != nil {
		d.stopping.Store(true)
		dev.Uninit()
		freeContext(actx)
		return fmt.Errorf("malgo: start device %q: %w", d.Name(), err)
	}

	d.actx = actx
	d.dev = dev
	d.stopCtx = context.AfterFunc(ctx, func() {
		if err := d.Stop(); err != nil {
			slog.Warn("malgo: stop on cancel failed", "device", d.Name(), "err", err)
		}
	})
	slog.Info("capture device started", "device", d.Name(), "sample_rate", d.rate)
	return nil
}

// onData runs on the miniaudio thread. It decodes the interleaved float32
// period into a reused buffer and forwards it.
func (d *Device) onData(_, in []byte, frames uint32) {
	n := int(frames)
	if n == 0 || len(in) < n*4 {
		return
	}
	if cap(d.scratch) < n {
		d.scratch = make([]float32, n)
	}
	buf := d.scratch[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
	}
	d.callback(buf, d.rate)
}

// onStop is called by miniaudio whenever the device stops, including when
// the backend loses it.
func (d *Device) onStop() {
	if d.stopping.Load() {
		return
	}
	select {
	case d.faults <- fmt.Errorf("malgo: device %q stopped unexpectedly", d.Name()):
	default:
	}
}

// Faults reports unexpected device stops.
func (d *Device) Faults() <-chan error { return d.faults }

// Stop stops and releases the device and the miniaudio context.
func (d *Device) Stop() error {
	d.mu.Lock()
	if d.dev == nil {
		d.mu.Unlock()
		return nil
	}
	d.stopping.Store(true)
	dev, actx := d.dev, d.actx
	d.dev, d.actx = nil, nil
	if d.stopCtx != nil {
		d.stopCtx()
		d.stopCtx = nil
	}
	d.mu.Unlock()

	err := dev.Stop()
	dev.Uninit()
	freeContext(actx)
	if err != nil {
		return fmt.Errorf("malgo: stop device %q: %w", d.Name(), err)
	}
	return nil
}

func findDevice(actx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	infos, err := actx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("malgo: list capture devices: %w", err)
	}
	want := strings.ToLower(name)
	var names []string
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, nil
		}
		names = append(names, info.Name())
	}
	return malgo.DeviceID{}, fmt.Errorf("malgo: no capture device matches %q (available: %s)", name, strings.Join(names, ", "))
}

func freeContext(actx *malgo.AllocatedContext) {
	if actx == nil {
		return
	}
	_ = actx.Uninit()
	actx.Free()
}
