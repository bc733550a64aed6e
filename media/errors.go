package media

import "errors"

var (
	// ErrNoVideo is returned when a source has no video track.
	ErrNoVideo = errors.New("media: no video stream")

	// ErrNoAudio is returned when a source has no audio track.
	ErrNoAudio = errors.New("media: no audio stream")

	// ErrOutputClosed is returned by AudioOutput.Write after Close. The
	// audio loop treats it as a normal exit, not a failure.
	ErrOutputClosed = errors.New("media: audio output closed")

	// ErrInputOverflow indicates the capture device dropped samples. Fatal
	// for the recorder's audio loop.
	ErrInputOverflow = errors.New("media: audio input overflowed")
)
