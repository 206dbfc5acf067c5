// Package discord provides a capture.Device that listens to a Discord voice
// channel through bwmarrin/discordgo. Incoming Opus packets are decoded with
// gopus (48 kHz stereo, 20 ms frames), down-mixed to mono and handed to the
// capture callback; the pipeline resamples them like any other source.
//
// Discord delivers one packet stream per speaker, identified by SSRC. The
// device follows a single speaker at a time: it locks onto the first SSRC it
// hears and moves to another one only after the current speaker has been
// quiet for the hold period, so overlapping talkers never interleave on the
// mono timeline.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"github.com/MrWong99/earshot/pkg/provider/capture"
)

// Discord voice is 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate * 20 / 1000 // 960 samples per channel
)

// DefaultSpeakerHold is how long the followed speaker may stay silent before
// another speaker is picked up.
const DefaultSpeakerHold = 500 * time.Millisecond

// ErrRecvClosed is reported on Faults when discordgo closes the receive
// channel, which happens when the voice connection drops.
var ErrRecvClosed = errors.New("discord: voice receive channel closed")

var (
	_ capture.Device  = (*Device)(nil)
	_ capture.Faulter = (*Device)(nil)
)

// joinFunc connects to the voice channel and returns the connection plus a
// function that leaves it and releases the gateway session.
type joinFunc func(ctx context.Context) (*discordgo.VoiceConnection, func() error, error)

// Device captures one Discord voice channel.
type Device struct {
	guildID   string
	channelID string
	hold      time.Duration
	join      joinFunc

	faults chan error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	release func() error
}

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithSpeakerHold sets how long the followed speaker may stay silent before
// the device switches to another one. Non-positive values are ignored.
func WithSpeakerHold(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.hold = d
		}
	}
}

// New returns a Device that joins channelID in guildID with the bot token.
// Nothing connects until Start.
func New(token, guildID, channelID string, opts ...Option) (*Device, error) {
	if token == "" || guildID == "" || channelID == "" {
		return nil, errors.New("discord: token, guild ID and channel ID are required")
	}
	d := newDevice(guildID, channelID, nil, opts...)
	d.join = func(ctx context.Context) (*discordgo.VoiceConnection, func() error, error) {
		return joinVoice(ctx, token, guildID, channelID)
	}
	return d, nil
}

func newDevice(guildID, channelID string, join joinFunc, opts ...Option) *Device {
	d := &Device{
		guildID:   guildID,
		channelID: channelID,
		hold:      DefaultSpeakerHold,
		join:      join,
		faults:    make(chan error, 1),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// joinVoice opens a gateway session and joins the channel muted but not
// deafened, since the device only listens.
func joinVoice(ctx context.Context, token, guildID, channelID string) (*discordgo.VoiceConnection, func() error, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, nil, fmt.Errorf("discord: open session: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = session.Close()
		return nil, nil, err
	}
	vc, err := session.ChannelVoiceJoin(guildID, channelID, true, false)
	if err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	release := func() error {
		return errors.Join(vc.Disconnect(), session.Close())
	}
	return vc, release, nil
}

// Name returns the guild and channel being captured.
func (d *Device) Name() string {
	return fmt.Sprintf("discord:%s/%s", d.guildID, d.channelID)
}

// Faults reports a dropped voice connection.
func (d *Device) Faults() <-chan error { return d.faults }

// Start joins the voice channel and begins decoding. A Device can be started
// once.
func (d *Device) Start(ctx context.Context, cb capture.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return capture.ErrAlreadyStarted
	}
	vc, release, err := d.join(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.release = release
	d.done = make(chan struct{})
	go d.recvLoop(ctx, vc.OpusRecv, cb)
	slog.Info("discord: capturing voice channel", "guild", d.guildID, "channel", d.channelID)
	return nil
}

// recvLoop decodes packets from the followed speaker until ctx is done or the
// receive channel closes.
func (d *Device) recvLoop(ctx context.Context, recv <-chan *discordgo.Packet, cb capture.Callback) {
	defer close(d.done)

	decoders := make(map[uint32]*gopus.Decoder)
	mono := make([]float32, 0, opusFrameSize)
	var (
		current   uint32
		locked    bool
		lastHeard time.Time
	)
	for {
		var pkt *discordgo.Packet
		select {
		case <-ctx.Done():
			return
		case p, ok := <-recv:
			if !ok {
				d.fault(ErrRecvClosed)
				return
			}
			pkt = p
		}
		if pkt == nil || len(pkt.Opus) == 0 {
			continue
		}

		now := time.Now()
		if locked && pkt.SSRC != current && now.Sub(lastHeard) < d.hold {
			continue
		}
		if !locked || pkt.SSRC != current {
			slog.Debug("discord: following speaker", "ssrc", pkt.SSRC)
		}
		current, locked, lastHeard = pkt.SSRC, true, now

		dec, ok := decoders[pkt.SSRC]
		if !ok {
			var err error
			dec, err = gopus.NewDecoder(opusSampleRate, opusChannels)
			if err != nil {
				slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			decoders[pkt.SSRC] = dec
		}
		pcm, err := dec.Decode(pkt.Opus, opusFrameSize, false)
		if err != nil {
			slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
			continue
		}
		cb(downmix(mono[:0], pcm), opusSampleRate)
	}
}

// downmix averages interleaved stereo int16 into mono float32 in [-1, 1).
func downmix(dst []float32, pcm []int16) []float32 {
	for i := 0; i+1 < len(pcm); i += opusChannels {
		dst = append(dst, (float32(pcm[i])+float32(pcm[i+1]))/(2*32768))
	}
	return dst
}

func (d *Device) fault(err error) {
	select {
	case d.faults <- err:
	default:
	}
}

// Stop stops decoding, leaves the channel and closes the gateway session.
func (d *Device) Stop() error {
	d.mu.Lock()
	cancel, done, release := d.cancel, d.done, d.release
	d.release = nil
	d.mu.Unlock()
	if cancel == nil {
		return capture.ErrNotStarted
	}
	cancel()
	<-done
	if release == nil {
		return nil
	}
	if err := release(); err != nil {
		return fmt.Errorf("discord: leave voice channel: %w", err)
	}
	return nil
}
