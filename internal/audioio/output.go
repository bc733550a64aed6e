// Package audioio adapts the audio devices to the push-shaped interfaces
// the engine consumes: an oto playback output fed through an io.Pipe and
// a malgo capture input drained through a ring buffer.
package audioio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/GoldenFealla/AVPlayerGo/media"
)

// oto allows a single context per process, so the first open pins the
// device format for the process lifetime.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
	otoCh   int
)

// Output is an oto-backed playback device. Writes block on the device's
// own pull rate, which is what paces the audio decode loop.
type Output struct {
	player *oto.Player
	pw     *io.PipeWriter

	closeOnce sync.Once
}

// OpenOutput opens the playback device at the given rate and channel
// count. Because the device context is process-wide, every Output after
// the first must request the same format.
func OpenOutput(sampleRate, channels int) (*Output, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("audio output: creating context failed: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoRate = sampleRate
		otoCh = channels
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if sampleRate != otoRate || channels != otoCh {
		return nil, fmt.Errorf("audio output: device already open at %dHz/%dch", otoRate, otoCh)
	}

	pr, pw := io.Pipe()
	player := otoCtx.NewPlayer(pr)
	player.Play()

	return &Output{player: player, pw: pw}, nil
}

// Write pushes interleaved float32 samples to the device. Fails with
// media.ErrOutputClosed once the output has been closed, including for a
// write already blocked at close time.
func (o *Output) Write(samples []float32) error {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}

	if _, err := o.pw.Write(buf); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return media.ErrOutputClosed
		}
		return fmt.Errorf("audio output: writing failed: %w", err)
	}
	return nil
}

// Close tears the pipe down first so a blocked Write unblocks, then
// releases the device player.
func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		o.pw.Close()
		o.player.Close()
	})
	return nil
}
