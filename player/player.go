// Package player implements synchronized playback of a media source's
// video and audio tracks. Two decode loops run as goroutines sharing a
// presentation clock, a pause gate and a single-slot frame buffer; the
// host render loop pulls the latest frame with GetFrame while audio
// streams to the output device.
package player

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/GoldenFealla/AVPlayerGo/media"
)

const (
	// MinSpeed and MaxSpeed bound the playback speed factor.
	MinSpeed = 0.1
	MaxSpeed = 8.0

	outputChannels = 2
)

// Config holds the playback options. Use DefaultConfig as the base; the
// zero value of Volume means muted, not "default".
type Config struct {
	// Speed is the playback speed factor, clamped to [MinSpeed, MaxSpeed].
	// Speed-adjusted audio uses nearest-neighbor sample decimation, which
	// shifts pitch along with tempo.
	Speed float64

	// Volume in [0, 1], applied sample-wise on each audio batch.
	Volume float64

	// Loop is how many times the source plays. 0 means forever.
	Loop int

	// SampleRate of the audio output device.
	SampleRate int

	// DropThreshold is how late a video frame may run behind the
	// presentation clock before it is discarded instead of shown.
	DropThreshold time.Duration

	// TolerateAudioFailure downgrades audio output errors during playback
	// to video-only playback instead of stopping the session.
	TolerateAudioFailure bool

	Logger zerolog.Logger
}

// DefaultConfig returns the standard playback configuration.
func DefaultConfig() Config {
	return Config{
		Speed:         1,
		Volume:        1,
		Loop:          1,
		SampleRate:    44100,
		DropThreshold: 100 * time.Millisecond,
		Logger:        zerolog.Nop(),
	}
}

func (c Config) normalized() Config {
	if c.Speed == 0 {
		c.Speed = 1
	}
	c.Speed = clamp(c.Speed, MinSpeed, MaxSpeed)
	c.Volume = clamp(c.Volume, 0, 1)
	if c.Loop < 0 {
		c.Loop = 0
	}
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.DropThreshold == 0 {
		c.DropThreshold = 100 * time.Millisecond
	}
	return c
}

// Player is one media source opened for playback. It owns the decode
// cursors, the presentation clock, the pause gate and the frame buffer.
type Player struct {
	info  media.Info
	video media.VideoSource
	audio media.AudioSource
	out   media.AudioOutput
	log   zerolog.Logger

	loopLimit     int
	dropThreshold float64 // seconds
	tolerateAudio bool

	clock   Clock
	gate    *Gate
	frame   *FrameBuffer
	seekGen atomic.Int64

	mu     sync.Mutex // transport state below
	speed  float64
	volume float64
	paused bool

	videoLoops  atomic.Int64
	audioLoops  atomic.Int64
	audioActive atomic.Bool

	started  bool
	stopped  atomic.Bool
	stopC    chan struct{}
	termOnce sync.Once
	stopOnce sync.Once
	eg       errgroup.Group
}

// NewPlayer assembles a Player from already-opened collaborators. audio
// and out may be nil together, in which case the video loop is the timing
// authority. Most callers want Open instead.
func NewPlayer(info media.Info, video media.VideoSource, audio media.AudioSource, out media.AudioOutput, cfg Config) *Player {
	cfg = cfg.normalized()

	p := &Player{
		info:          info,
		video:         video,
		audio:         audio,
		out:           out,
		log:           cfg.Logger,
		loopLimit:     cfg.Loop,
		dropThreshold: cfg.DropThreshold.Seconds(),
		tolerateAudio: cfg.TolerateAudioFailure,
		gate:          NewGate(true),
		frame:         NewFrameBuffer(info.Size()),
		speed:         cfg.Speed,
		volume:        cfg.Volume,
		stopC:         make(chan struct{}),
	}
	p.audioActive.Store(audio != nil)
	return p
}

// Start spawns the decode loops. Calling Start again is a no-op.
func (p *Player) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.eg.Go(p.videoLoop)
	if p.audio != nil {
		p.eg.Go(p.audioLoop)
	}
	p.log.Debug().
		Bool("audio", p.audio != nil).
		Float64("fps", p.info.FrameRate).
		Msg("playback started")
}

// terminate marks the session stopped and releases anything parked at the
// gate or in a pacing sleep. It does not join or close; Stop does.
func (p *Player) terminate() {
	p.termOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stopC)
		p.gate.Set()
	})
}

// Stop ends playback. It is idempotent and safe to call from any
// goroutine: the gate is released before joining so a paused loop can
// observe the stop, and the codec and device handles are closed only
// after both loops have exited.
func (p *Player) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.terminate()

		// Unblocks an audio loop mid-write on the device.
		if p.out != nil {
			p.out.Close()
		}

		err = p.eg.Wait()

		if cerr := p.video.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if p.audio != nil {
			if cerr := p.audio.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		p.log.Debug().Msg("playback stopped")
	})
	return err
}

// TogglePause flips the pause gate. Both loops observe it at their wait
// points, so pause latency is bounded by one loop iteration. A no-op
// after stop.
func (p *Player) TogglePause() {
	if p.stopped.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		p.gate.Set()
	} else {
		p.paused = true
		p.gate.Clear()
	}
}

// SetVolume clamps v into [0, 1]. Takes effect on the audio loop's next
// sample batch, never retroactively.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = clamp(v, 0, 1)
	p.mu.Unlock()
}

// IncreaseVolume raises the volume by delta, clamped.
func (p *Player) IncreaseVolume(delta float64) { p.SetVolume(p.Volume() + delta) }

// DecreaseVolume lowers the volume by delta, clamped.
func (p *Player) DecreaseVolume(delta float64) { p.SetVolume(p.Volume() - delta) }

// SetSpeed clamps v into [MinSpeed, MaxSpeed]. Both loops pick it up on
// their next iteration; no resync is required.
func (p *Player) SetSpeed(v float64) {
	p.mu.Lock()
	p.speed = clamp(v, MinSpeed, MaxSpeed)
	p.mu.Unlock()
}

// IncreaseSpeed raises the playback speed by delta, clamped.
func (p *Player) IncreaseSpeed(delta float64) { p.SetSpeed(p.Speed() + delta) }

// DecreaseSpeed lowers the playback speed by delta, clamped.
func (p *Player) DecreaseSpeed(delta float64) { p.SetSpeed(p.Speed() - delta) }

// Move seeks both decode cursors to the nearest keyframe at or before the
// target (clamped into [0, duration]) and resets the presentation clock.
// The decode loops keep running; prior pause state is preserved. A no-op
// after stop.
func (p *Player) Move(seconds float64) error {
	if p.stopped.Load() {
		return nil
	}
	target := clamp(seconds, 0, p.info.Duration)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Park both loops at the gate for the duration of the seek.
	wasPaused := p.paused
	if !wasPaused {
		p.gate.Clear()
		defer p.gate.Set()
	}

	// Invalidates any frame a loop decoded before this seek but has not
	// presented yet; the loops re-check the generation after the gate.
	p.seekGen.Add(1)

	if err := p.video.Seek(target); err != nil {
		return fmt.Errorf("move: seeking video cursor failed: %w", err)
	}
	if p.audio != nil {
		if err := p.audio.Seek(target); err != nil {
			return fmt.Errorf("move: seeking audio cursor failed: %w", err)
		}
	}

	p.clock.Reset(target)
	return nil
}

// Forward seeks ahead by the given number of seconds.
func (p *Player) Forward(seconds float64) error { return p.Move(p.Position() + seconds) }

// Rewind seeks back by the given number of seconds.
func (p *Player) Rewind(seconds float64) error { return p.Move(p.Position() - seconds) }

// MoveFrame seeks to the n-th frame of the stream.
func (p *Player) MoveFrame(n int64) error {
	if p.info.FrameRate == 0 {
		return nil
	}
	return p.Move(float64(n) / p.info.FrameRate)
}

// ForwardFrame seeks ahead by n frames.
func (p *Player) ForwardFrame(n int64) error {
	if p.info.FrameRate == 0 {
		return nil
	}
	return p.Move(p.Position() + float64(n)/p.info.FrameRate)
}

// RewindFrame seeks back by n frames.
func (p *Player) RewindFrame(n int64) error {
	return p.ForwardFrame(-n)
}

// GetFrame returns the latest decoded frame, scaled to size when size is
// non-nil. It never blocks waiting for a new frame: before the first
// decode it returns a blank canvas, and between decodes it returns the
// previous frame again.
func (p *Player) GetFrame(size *image.Point) image.Image {
	return p.frame.Get(size)
}

// FPS is the nominal frame rate of the video track.
func (p *Player) FPS() float64 { return p.info.FrameRate }

// Duration of the source in seconds.
func (p *Player) Duration() float64 { return p.info.Duration }

// Size of the video in pixels.
func (p *Player) Size() image.Point { return p.info.Size() }

// HasAudio reports whether the source has an audio track.
func (p *Player) HasAudio() bool { return p.audio != nil }

// Position is the current presentation clock value in media seconds.
func (p *Player) Position() float64 { return p.clock.Now() }

// Paused reports whether playback is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Stopped reports whether the session has ended, either by Stop or by the
// loop limit being reached.
func (p *Player) Stopped() bool { return p.stopped.Load() }

// Volume returns the current volume in [0, 1].
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Speed returns the current playback speed factor.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// VideoLoops is how many times the video track has reached end of stream.
func (p *Player) VideoLoops() int64 { return p.videoLoops.Load() }

// AudioLoops is how many times the audio track has reached end of stream.
func (p *Player) AudioLoops() int64 { return p.audioLoops.Load() }

// hasAudioPlayback reports whether the audio loop is still the timing
// authority. False when there is no audio track or audio output has been
// degraded away.
func (p *Player) hasAudioPlayback() bool { return p.audioActive.Load() }

// sleep pauses for d or until the session terminates, whichever is first.
func (p *Player) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopC:
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
