// Package decoder wraps go-astiav demuxing and decoding behind the pull
// cursors the playback engine consumes. Each track gets its own format
// context so the two decode loops can read and seek independently.
package decoder

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/GoldenFealla/AVPlayerGo/media"
)

// Container is one opened media source: a probe result plus one decode
// cursor per present track. Audio is nil when the source has no audio
// track.
type Container struct {
	Info  media.Info
	Video *VideoStream
	Audio *AudioStream
}

// Open opens source (a file path or URL) for playback. sampleRate is the
// rate audio frames are resampled to; 0 means 44100. Fails with
// media.ErrNoVideo when the source has no video track.
func Open(source string, sampleRate int) (*Container, error) {
	return open(func() (*astiav.FormatContext, func(), error) {
		return openInput(source)
	}, sampleRate)
}

// open builds a Container from a factory producing fresh format contexts
// over the same source, one per track.
func open(newInput func() (*astiav.FormatContext, func(), error), sampleRate int) (*Container, error) {
	if sampleRate == 0 {
		sampleRate = 44100
	}

	vfc, vclose, err := newInput()
	if err != nil {
		return nil, err
	}

	video, err := newVideoStream(vfc, vclose)
	if err != nil {
		vclose()
		return nil, err
	}

	c := &Container{
		Video: video,
		Info:  video.probe(),
	}

	afc, aclose, err := newInput()
	if err != nil {
		video.Close()
		return nil, err
	}

	audio, err := newAudioStream(afc, aclose, sampleRate)
	if errors.Is(err, media.ErrNoAudio) {
		aclose()
	} else if err != nil {
		aclose()
		video.Close()
		return nil, err
	} else {
		c.Audio = audio
		c.Info.HasAudio = true
	}

	return c, nil
}

func openInput(source string) (*astiav.FormatContext, func(), error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, nil, errors.New("open: format context is nil")
	}

	if err := fc.OpenInput(source, nil, nil); err != nil {
		fc.Free()
		return nil, nil, fmt.Errorf("open: opening input failed: %w", err)
	}

	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, nil, fmt.Errorf("open: finding stream info failed: %w", err)
	}

	return fc, func() {
		fc.CloseInput()
		fc.Free()
	}, nil
}

// findCodec locates the first stream of the given type and opens a codec
// context for it.
func findCodec(fc *astiav.FormatContext, t astiav.MediaType) (*astiav.Stream, *astiav.CodecContext, error) {
	for _, is := range fc.Streams() {
		if is.CodecParameters().MediaType() != t {
			continue
		}

		c := astiav.FindDecoder(is.CodecParameters().CodecID())
		if c == nil {
			return nil, nil, errors.New("finding codec: codec is nil")
		}

		cc := astiav.AllocCodecContext(c)
		if cc == nil {
			return nil, nil, errors.New("finding codec: codec context is nil")
		}

		if err := is.CodecParameters().ToCodecContext(cc); err != nil {
			cc.Free()
			return nil, nil, fmt.Errorf("finding codec: updating codec context failed: %w", err)
		}

		if err := cc.Open(c, nil); err != nil {
			cc.Free()
			return nil, nil, fmt.Errorf("finding codec: opening codec context failed: %w", err)
		}

		return is, cc, nil
	}

	return nil, nil, nil
}
