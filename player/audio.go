package player

import (
	"errors"
	"fmt"
	"io"

	"github.com/GoldenFealla/AVPlayerGo/media"
)

// audioLoop mirrors videoLoop for the audio track, with its own loop
// counter. Output failures either degrade the session to video-only or
// stop it, depending on configuration.
func (p *Player) audioLoop() error {
	for !p.stopped.Load() {
		err := p.audioPass()
		if errors.Is(err, media.ErrOutputClosed) {
			return nil
		}
		if err != nil {
			if p.tolerateAudio {
				p.audioActive.Store(false)
				p.log.Warn().Err(err).Msg("audio failed, continuing video-only")
				return nil
			}
			p.terminate()
			return fmt.Errorf("audio loop: %w", err)
		}
		if p.stopped.Load() {
			return nil
		}

		n := p.audioLoops.Add(1)
		if p.loopLimit == 0 || n < int64(p.loopLimit) {
			if err := p.audio.Seek(0); err != nil {
				p.terminate()
				return fmt.Errorf("audio loop: rewinding stream failed: %w", err)
			}
			continue
		}

		p.log.Debug().Int64("loops", n).Msg("audio stream ended")
		p.terminate()
		return nil
	}
	return nil
}

// audioPass consumes the audio cursor until end of stream. The clock is
// published before any sample processing so the video loop sees timing as
// early as possible.
func (p *Player) audioPass() error {
	var index int64
	for {
		gen := p.seekGen.Load()
		f, err := p.audio.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		p.gate.Wait()
		if p.stopped.Load() {
			return nil
		}
		if p.seekGen.Load() != gen {
			// Batch decoded before a seek; presenting it would publish a
			// stale clock value.
			continue
		}

		index++
		p.clock.Set(f.PTS, index)

		samples := f.Samples
		if speed := p.Speed(); speed != 1 {
			samples = stretch(samples, outputChannels, speed)
		}
		if vol := p.Volume(); vol != 1 {
			scaled := make([]float32, len(samples))
			for i, s := range samples {
				scaled[i] = s * float32(vol)
			}
			samples = scaled
		}

		if err := p.out.Write(samples); err != nil {
			if errors.Is(err, media.ErrOutputClosed) || errors.Is(err, io.ErrClosedPipe) {
				return media.ErrOutputClosed
			}
			return fmt.Errorf("writing samples failed: %w", err)
		}
	}
}

// stretch resamples interleaved samples by nearest-neighbor index
// selection scaled by 1/speed. Tempo and pitch change together and the
// result aliases audibly.
func stretch(in []float32, channels int, speed float64) []float32 {
	frames := len(in) / channels
	outFrames := int(float64(frames) / speed)
	out := make([]float32, 0, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		src := int(float64(i) * speed)
		if src >= frames {
			src = frames - 1
		}
		out = append(out, in[src*channels:(src+1)*channels]...)
	}
	return out
}
