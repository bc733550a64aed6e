package player

import (
	"github.com/GoldenFealla/AVPlayerGo/internal/audioio"
	"github.com/GoldenFealla/AVPlayerGo/internal/decoder"
	"github.com/GoldenFealla/AVPlayerGo/media"
)

// Open opens a local file or URL for playback. Fails immediately when the
// source is missing, unopenable or has no video track. When the source
// has an audio track the audio output device is opened too; device
// failures are fatal unless Config.TolerateAudioFailure is set, in which
// case playback degrades to video-only.
func Open(source string, cfg Config) (*Player, error) {
	cfg = cfg.normalized()
	c, err := decoder.Open(source, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return fromContainer(c, cfg)
}

// OpenBytes opens an in-memory source for playback.
func OpenBytes(b []byte, cfg Config) (*Player, error) {
	cfg = cfg.normalized()
	c, err := decoder.OpenBytes(b, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return fromContainer(c, cfg)
}

func fromContainer(c *decoder.Container, cfg Config) (*Player, error) {
	var (
		audio media.AudioSource
		out   media.AudioOutput
	)

	if c.Audio != nil {
		o, err := audioio.OpenOutput(cfg.SampleRate, outputChannels)
		switch {
		case err == nil:
			audio = c.Audio
			out = o
		case cfg.TolerateAudioFailure:
			cfg.Logger.Warn().Err(err).Msg("audio device unavailable, playing video-only")
			c.Audio.Close()
			c.Info.HasAudio = false
		default:
			c.Audio.Close()
			c.Video.Close()
			return nil, err
		}
	}

	return NewPlayer(c.Info, c.Video, audio, out, cfg), nil
}
