package player

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// syncThreshold bounds the per-frame catch-up sleep so pause and stop are
// observed within a few milliseconds even when the video runs well ahead
// of the presentation clock.
const syncThreshold = 5 * time.Millisecond

// videoLoop runs one decode pass per playback loop until the loop limit
// is reached or the session stops.
func (p *Player) videoLoop() error {
	for !p.stopped.Load() {
		if err := p.videoPass(); err != nil {
			p.terminate()
			return fmt.Errorf("video loop: decoding pass failed: %w", err)
		}
		if p.stopped.Load() {
			return nil
		}

		n := p.videoLoops.Add(1)
		if p.loopLimit == 0 || n < int64(p.loopLimit) {
			if err := p.video.Seek(0); err != nil {
				p.terminate()
				return fmt.Errorf("video loop: rewinding stream failed: %w", err)
			}
			if !p.hasAudioPlayback() {
				p.clock.Reset(0)
			}
			continue
		}

		p.log.Debug().Int64("loops", n).Msg("video stream ended")
		p.terminate()
		return nil
	}
	return nil
}

// videoPass consumes the video cursor until end of stream, pacing each
// frame against the presentation clock.
func (p *Player) videoPass() error {
	var index int64
	for {
		gen := p.seekGen.Load()
		f, err := p.video.ReadFrame()
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
			// The cursor was repositioned while this frame was in hand;
			// it belongs to the pre-seek position.
			continue
		}

		index++
		speed := p.Speed()
		target := f.PTS / speed
		ref := p.clock.Now()
		if !p.hasAudioPlayback() {
			// No audio reference: the video loop is the timing authority
			// and must keep the playback position observable.
			p.clock.Set(f.PTS, index)
			ref = target
		}

		delay := target - ref
		if delay > syncThreshold.Seconds() {
			p.sleep(syncThreshold)
		} else if delay < -p.dropThreshold {
			p.log.Debug().Float64("pts", f.PTS).Float64("behind", -delay).Msg("dropping late frame")
			// Catching up must not spin a core when the decoder is
			// hopelessly behind.
			p.sleep(time.Millisecond)
			continue
		}

		p.frame.Publish(f.Image)

		if p.info.FrameRate > 0 {
			p.sleep(time.Duration(float64(time.Second) / (p.info.FrameRate * speed)))
		}
	}
}
