// Package media defines the frame types and collaborator interfaces shared
// by the playback engine, the recorder and the codec/device adapters.
package media

import "image"

// VideoFrame is a single decoded picture ready for display. PTS is the
// frame's position on the media's own time axis, in seconds.
type VideoFrame struct {
	PTS   float64
	Image image.Image
}

// AudioFrame is a batch of decoded samples, already resampled to the output
// rate and interleaved by channel. PTS is in seconds.
type AudioFrame struct {
	PTS     float64
	Samples []float32
}

// Info is the probe result for an opened source.
type Info struct {
	Duration  float64 // seconds
	FrameRate float64
	Width     int
	Height    int
	HasAudio  bool
	HasVideo  bool
}

// Size returns the video dimensions as an image.Point.
func (i Info) Size() image.Point {
	return image.Pt(i.Width, i.Height)
}

// VideoSource is a decode cursor over a video track. ReadFrame returns
// io.EOF at the end of a pass; the cursor is restartable via Seek.
type VideoSource interface {
	ReadFrame() (VideoFrame, error)
	Seek(seconds float64) error
	Close() error
}

// AudioSource is the audio-track counterpart of VideoSource. Frames are
// delivered in the output sample format (interleaved float32).
type AudioSource interface {
	ReadFrame() (AudioFrame, error)
	Seek(seconds float64) error
	Close() error
}

// AudioOutput is a playback device. Write blocks on the device's own pull
// rate and fails with ErrOutputClosed once the output has been closed.
type AudioOutput interface {
	Write(samples []float32) error
	Close() error
}

// AudioInput is a capture device. Read blocks until n sample-frames are
// available and reports whether the device buffer overflowed meanwhile.
type AudioInput interface {
	Read(n int) (samples []float32, overflowed bool, err error)
	Close() error
}
