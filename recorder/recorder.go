// Package recorder muxes live-captured frames, and optionally audio
// input, into an encoded file. The host render loop pushes frames with
// WriteFrame; an encode loop drains them, assigns wall-clock presentation
// timestamps and muxes the encoded packets.
package recorder

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/GoldenFealla/AVPlayerGo/internal/audioio"
	"github.com/GoldenFealla/AVPlayerGo/media"
)

// DefaultQueueSize is the frame queue capacity when Config leaves it 0.
const DefaultQueueSize = 50

// audioReadFrames is how many sample-frames the capture loop reads per
// iteration; it is also the encoder frame size.
const audioReadFrames = 1024

// Config holds the recording options; zero fields get defaults.
type Config struct {
	FrameRate   int    // default 30
	VideoCodec  string // default "libx264"
	PixelFormat string // default "yuv420p"

	RecordAudio bool
	SampleRate  int    // default 44100
	Channels    int    // default 2
	AudioCodec  string // default "aac"

	QueueSize int // default DefaultQueueSize

	Logger zerolog.Logger
}

func (c Config) normalized() Config {
	if c.FrameRate == 0 {
		c.FrameRate = 30
	}
	if c.VideoCodec == "" {
		c.VideoCodec = "libx264"
	}
	if c.PixelFormat == "" {
		c.PixelFormat = "yuv420p"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	if c.AudioCodec == "" {
		c.AudioCodec = "aac"
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// videoSink consumes scaled frames carrying already-assigned timestamps.
type videoSink interface {
	Encode(img image.Image, pts int64) error
	Flush() error
}

// audioSink consumes captured sample batches; timestamps accumulate from
// the sample count.
type audioSink interface {
	EncodeAudio(samples []float32) error
	FlushAudio() error
}

// Recorder is one recording session writing to a single output file.
type Recorder struct {
	output string
	size   image.Point
	cfg    Config
	log    zerolog.Logger

	queue *Queue
	video videoSink
	audio audioSink
	in    media.AudioInput

	container interface{ Close() error }

	mu       sync.Mutex
	started  bool
	stopped  atomic.Bool
	stopOnce sync.Once
	eg       errgroup.Group
}

// New opens the output container and prepares a recorder producing
// size-dimension video.
func New(output string, size image.Point, cfg Config) (*Recorder, error) {
	cfg = cfg.normalized()

	w, err := newAVWriter(output, size, cfg)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		output:    output,
		size:      size,
		cfg:       cfg,
		log:       cfg.Logger,
		queue:     NewQueue(cfg.QueueSize),
		video:     w,
		container: w,
	}

	if cfg.RecordAudio {
		in, err := audioio.OpenInput(cfg.SampleRate, cfg.Channels)
		if err != nil {
			w.Close()
			return nil, err
		}
		r.in = in
		r.audio = w
	}

	return r, nil
}

// newWithSinks assembles a recorder around injected sinks; tests use it
// to exercise the loops without a codec library.
func newWithSinks(video videoSink, audio audioSink, in media.AudioInput, cfg Config) *Recorder {
	cfg = cfg.normalized()
	return &Recorder{
		cfg:   cfg,
		log:   cfg.Logger,
		queue: NewQueue(cfg.QueueSize),
		video: video,
		audio: audio,
		in:    in,
	}
}

// Start spawns the encode loop and, when recording audio, the capture
// loop. Calling Start again is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.eg.Go(r.encodeLoop)
	if r.audio != nil && r.in != nil {
		r.eg.Go(r.audioLoop)
	}
	r.log.Debug().Str("output", r.output).Msg("recording started")
}

// WriteFrame enqueues a frame for encoding. Never blocks: when the queue
// is full the oldest pending frame is dropped to admit this one.
func (r *Recorder) WriteFrame(img image.Image) {
	if r.stopped.Load() {
		return
	}
	r.queue.Push(img)
}

// encodeLoop drains the queue, scales frames to the target size, assigns
// monotonic wall-clock timestamps and hands them to the encoder.
func (r *Recorder) encodeLoop() error {
	start := time.Now()
	last := int64(-1)

	for !r.stopped.Load() {
		img, ok := r.queue.Pop(100 * time.Millisecond)
		if !ok {
			continue
		}

		if r.size != (image.Point{}) && img.Bounds().Size() != r.size {
			img = resize.Resize(uint(r.size.X), uint(r.size.Y), img, resize.Bilinear)
		}

		pts := int64(time.Since(start).Seconds() * float64(r.cfg.FrameRate))
		if pts <= last {
			// Muxers reject non-increasing timestamps.
			pts = last + 1
		}
		last = pts

		if err := r.video.Encode(img, pts); err != nil {
			r.stopped.Store(true)
			return fmt.Errorf("encode loop: encoding frame failed: %w", err)
		}
	}

	if err := r.video.Flush(); err != nil {
		return fmt.Errorf("encode loop: flushing encoder failed: %w", err)
	}
	return nil
}

// audioLoop reads captured samples and feeds the audio encoder. A device
// overflow is fatal for the loop.
func (r *Recorder) audioLoop() error {
	for !r.stopped.Load() {
		samples, overflowed, err := r.in.Read(audioReadFrames)
		if err != nil {
			// Closed input during stop is a normal exit.
			if r.stopped.Load() {
				break
			}
			return fmt.Errorf("audio loop: reading samples failed: %w", err)
		}
		if overflowed {
			r.stopped.Store(true)
			return media.ErrInputOverflow
		}

		if err := r.audio.EncodeAudio(samples); err != nil {
			r.stopped.Store(true)
			return fmt.Errorf("audio loop: encoding samples failed: %w", err)
		}
	}

	if err := r.audio.FlushAudio(); err != nil {
		return fmt.Errorf("audio loop: flushing encoder failed: %w", err)
	}
	return nil
}

// Stop ends the recording: marks the session stopped, joins the loops
// (each drains its encoder on the way out), then closes the capture
// device and the container. Idempotent.
func (r *Recorder) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		if r.in != nil {
			r.in.Close()
		}

		err = r.eg.Wait()

		if r.container != nil {
			if cerr := r.container.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		r.log.Debug().Str("output", r.output).Msg("recording stopped")
	})
	return err
}

// OutputFile is the path being written.
func (r *Recorder) OutputFile() string { return r.output }

// Size of the recorded video in pixels.
func (r *Recorder) Size() image.Point { return r.size }

// Width of the recorded video in pixels.
func (r *Recorder) Width() int { return r.size.X }

// Height of the recorded video in pixels.
func (r *Recorder) Height() int { return r.size.Y }

// FPS of the recorded video.
func (r *Recorder) FPS() int { return r.cfg.FrameRate }

// VideoCodec name in use.
func (r *Recorder) VideoCodec() string { return r.cfg.VideoCodec }

// PixelFormat of the encoded video.
func (r *Recorder) PixelFormat() string { return r.cfg.PixelFormat }

// SampleRate of the recorded audio in hertz.
func (r *Recorder) SampleRate() int { return r.cfg.SampleRate }

// Channels of recorded audio.
func (r *Recorder) Channels() int { return r.cfg.Channels }

// AudioCodec name in use.
func (r *Recorder) AudioCodec() string { return r.cfg.AudioCodec }

// RecordsAudio reports whether audio capture is enabled.
func (r *Recorder) RecordsAudio() bool { return r.cfg.RecordAudio }

// Stopped reports whether the recording has ended.
func (r *Recorder) Stopped() bool { return r.stopped.Load() }
