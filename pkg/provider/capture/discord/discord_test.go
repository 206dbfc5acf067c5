package discord

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"github.com/MrWong99/earshot/pkg/provider/capture"
)

// fakeVoice wires a Device to an in-memory receive channel instead of a
// gateway session.
type fakeVoice struct {
	recv     chan *discordgo.Packet
	released int
	mu       sync.Mutex
}

func (f *fakeVoice) join(context.Context) (*discordgo.VoiceConnection, func() error, error) {
	vc := &discordgo.VoiceConnection{OpusRecv: f.recv}
	return vc, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
		return nil
	}, nil
}

func newTestDevice(t *testing.T, opts ...Option) (*Device, *fakeVoice) {
	t.Helper()
	fv := &fakeVoice{recv: make(chan *discordgo.Packet, 16)}
	d := newDevice("guild-test", "channel-test", fv.join, opts...)
	t.Cleanup(func() { _ = d.Stop() })
	return d, fv
}

type blocks struct {
	mu    sync.Mutex
	sizes []int
	rates []float64
	peak  float64
}

func (b *blocks) callback(samples []float32, rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sizes = append(b.sizes, len(samples))
	b.rates = append(b.rates, rate)
	for _, v := range samples {
		b.peak = math.Max(b.peak, math.Abs(float64(v)))
	}
}

func (b *blocks) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sizes)
}

func waitBlocks(t *testing.T, b *blocks, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for b.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d blocks, want %d", b.count(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// opusPacket encodes 20 ms of a 440 Hz stereo tone.
func opusPacket(t *testing.T, ssrc uint32) *discordgo.Packet {
	t.Helper()
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	pcm := make([]int16, opusFrameSize*opusChannels)
	for i := range opusFrameSize {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/opusSampleRate))
		pcm[i*2], pcm[i*2+1] = v, v
	}
	data, err := enc.Encode(pcm, opusFrameSize, 4000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return &discordgo.Packet{SSRC: ssrc, Opus: data}
}

func TestNew_RequiresIdentifiers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                    string
		token, guild, channelID string
	}{
		{"token", "", "g", "c"},
		{"guild", "t", "", "c"},
		{"channel", "t", "g", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.token, tc.guild, tc.channelID); err == nil {
				t.Error("expected error")
			}
		})
	}
	d, err := New("token", "g", "c")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Name() != "discord:g/c" {
		t.Errorf("Name = %q, want discord:g/c", d.Name())
	}
}

func TestRecv_DecodesToMono48k(t *testing.T) {
	t.Parallel()
	d, fv := newTestDevice(t)
	var b blocks
	if err := d.Start(context.Background(), b.callback); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fv.recv <- nil
	fv.recv <- &discordgo.Packet{SSRC: 7}
	fv.recv <- opusPacket(t, 7)
	waitBlocks(t, &b, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sizes[0] != opusFrameSize || b.rates[0] != opusSampleRate {
		t.Errorf("block = %d samples at %v Hz, want %d at %d", b.sizes[0], b.rates[0], opusFrameSize, opusSampleRate)
	}
	if b.peak == 0 || b.peak >= 1 {
		t.Errorf("peak = %v, want a decoded tone in (0, 1)", b.peak)
	}
}

func TestRecv_FollowsOneSpeaker(t *testing.T) {
	t.Parallel()
	d, fv := newTestDevice(t, WithSpeakerHold(time.Hour))
	var b blocks
	if err := d.Start(context.Background(), b.callback); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fv.recv <- opusPacket(t, 1)
	fv.recv <- opusPacket(t, 2)
	fv.recv <- opusPacket(t, 1)
	waitBlocks(t, &b, 2)
	time.Sleep(20 * time.Millisecond)
	if n := b.count(); n != 2 {
		t.Errorf("blocks = %d, want 2 (second speaker ignored)", n)
	}
}

func TestRecv_SwitchesSpeakerAfterHold(t *testing.T) {
	t.Parallel()
	d, fv := newTestDevice(t, WithSpeakerHold(10*time.Millisecond))
	var b blocks
	if err := d.Start(context.Background(), b.callback); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fv.recv <- opusPacket(t, 1)
	waitBlocks(t, &b, 1)
	time.Sleep(30 * time.Millisecond)
	fv.recv <- opusPacket(t, 2)
	waitBlocks(t, &b, 2)
}

func TestRecv_ClosedChannelFaults(t *testing.T) {
	t.Parallel()
	d, fv := newTestDevice(t)
	if err := d.Start(context.Background(), func([]float32, float64) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(fv.recv)
	select {
	case err := <-d.Faults():
		if !errors.Is(err, ErrRecvClosed) {
			t.Errorf("fault = %v, want ErrRecvClosed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no fault after receive channel closed")
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	d, fv := newTestDevice(t)
	if err := d.Stop(); !errors.Is(err, capture.ErrNotStarted) {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}
	if err := d.Start(context.Background(), func([]float32, float64) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(context.Background(), func([]float32, float64) {}); !errors.Is(err, capture.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	for range 2 {
		if err := d.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	fv.mu.Lock()
	defer fv.mu.Unlock()
	if fv.released != 1 {
		t.Errorf("released = %d, want 1", fv.released)
	}
}

func TestStart_JoinFailure(t *testing.T) {
	t.Parallel()
	joinErr := errors.New("missing permissions")
	d := newDevice("g", "c", func(context.Context) (*discordgo.VoiceConnection, func() error, error) {
		return nil, nil, joinErr
	})
	if err := d.Start(context.Background(), func([]float32, float64) {}); !errors.Is(err, joinErr) {
		t.Errorf("Start = %v, want join error", err)
	}
	if err := d.Stop(); !errors.Is(err, capture.ErrNotStarted) {
		t.Errorf("Stop after failed Start = %v, want ErrNotStarted", err)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	got := downmix(nil, []int16{16384, 0, -32768, -32768, 100})
	if len(got) != 2 || got[0] != 0.25 || got[1] != -1 {
		t.Errorf("downmix = %v, want [0.25 -1]", got)
	}
}
