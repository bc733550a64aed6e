package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// avWriter is the go-astiav implementation of the encoder sinks: one
// output container with a video stream and, when audio is recorded, an
// audio stream. Muxing is serialized because the encode and capture loops
// call Encode concurrently.
type avWriter struct {
	muxMu sync.Mutex

	fc     *astiav.FormatContext
	ioCtx  *astiav.IOContext
	closer *astikit.Closer

	vs       *astiav.Stream
	vcc      *astiav.CodecContext
	sws      *astiav.SoftwareScaleContext
	srcFrame *astiav.Frame
	dstFrame *astiav.Frame
	vpkt     *astiav.Packet

	as       *astiav.Stream
	acc      *astiav.CodecContext
	aframe   *astiav.Frame
	apkt     *astiav.Packet
	channels int
	audioPts int64

	closeOnce sync.Once
}

func newAVWriter(output string, size image.Point, cfg Config) (*avWriter, error) {
	w := &avWriter{closer: astikit.NewCloser(), channels: cfg.Channels}

	fc, err := astiav.AllocOutputFormatContext(nil, "", output)
	if err != nil {
		return nil, fmt.Errorf("recorder: allocating output context failed: %w", err)
	}
	w.fc = fc
	w.closer.Add(fc.Free)

	if err := w.addVideoStream(size, cfg); err != nil {
		w.closer.Close()
		return nil, err
	}

	if cfg.RecordAudio {
		if err := w.addAudioStream(cfg); err != nil {
			w.closer.Close()
			return nil, err
		}
	}

	if !fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioCtx, err := astiav.OpenIOContext(output, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			w.closer.Close()
			return nil, fmt.Errorf("recorder: opening output file failed: %w", err)
		}
		w.ioCtx = ioCtx
		fc.SetPb(ioCtx)
	}

	if err := fc.WriteHeader(nil); err != nil {
		w.closer.Close()
		return nil, fmt.Errorf("recorder: writing header failed: %w", err)
	}

	return w, nil
}

func (w *avWriter) addVideoStream(size image.Point, cfg Config) error {
	codec := astiav.FindEncoderByName(cfg.VideoCodec)
	if codec == nil {
		return fmt.Errorf("recorder: video encoder %q not found", cfg.VideoCodec)
	}

	w.vcc = astiav.AllocCodecContext(codec)
	if w.vcc == nil {
		return errors.New("recorder: video codec context is nil")
	}
	w.closer.Add(w.vcc.Free)

	pixFmt := astiav.FindPixelFormatByName(cfg.PixelFormat)
	w.vcc.SetWidth(size.X)
	w.vcc.SetHeight(size.Y)
	w.vcc.SetPixelFormat(pixFmt)
	w.vcc.SetTimeBase(astiav.NewRational(1, cfg.FrameRate))
	w.vcc.SetFramerate(astiav.NewRational(cfg.FrameRate, 1))
	if w.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader) {
		w.vcc.SetFlags(w.vcc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	if err := w.vcc.Open(codec, nil); err != nil {
		return fmt.Errorf("recorder: opening video encoder failed: %w", err)
	}

	w.vs = w.fc.NewStream(codec)
	if w.vs == nil {
		return errors.New("recorder: video stream is nil")
	}
	if err := w.vs.CodecParameters().FromCodecContext(w.vcc); err != nil {
		return fmt.Errorf("recorder: copying video codec parameters failed: %w", err)
	}
	w.vs.SetTimeBase(w.vcc.TimeBase())

	w.srcFrame = astiav.AllocFrame()
	w.closer.Add(w.srcFrame.Free)
	w.srcFrame.SetWidth(size.X)
	w.srcFrame.SetHeight(size.Y)
	w.srcFrame.SetPixelFormat(astiav.PixelFormatRgba)
	if err := w.srcFrame.AllocBuffer(0); err != nil {
		return fmt.Errorf("recorder: allocating source frame buffer failed: %w", err)
	}

	w.dstFrame = astiav.AllocFrame()
	w.closer.Add(w.dstFrame.Free)

	sws, err := astiav.CreateSoftwareScaleContext(
		size.X, size.Y, astiav.PixelFormatRgba,
		size.X, size.Y, pixFmt,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("recorder: creating scale context failed: %w", err)
	}
	w.sws = sws
	w.closer.Add(sws.Free)

	w.vpkt = astiav.AllocPacket()
	w.closer.Add(w.vpkt.Free)

	return nil
}

func (w *avWriter) addAudioStream(cfg Config) error {
	codec := astiav.FindEncoderByName(cfg.AudioCodec)
	if codec == nil {
		return fmt.Errorf("recorder: audio encoder %q not found", cfg.AudioCodec)
	}

	w.acc = astiav.AllocCodecContext(codec)
	if w.acc == nil {
		return errors.New("recorder: audio codec context is nil")
	}
	w.closer.Add(w.acc.Free)

	w.acc.SetSampleRate(cfg.SampleRate)
	w.acc.SetChannelLayout(astiav.ChannelLayoutStereo)
	w.acc.SetSampleFormat(astiav.SampleFormatFltp)
	w.acc.SetTimeBase(astiav.NewRational(1, cfg.SampleRate))
	if w.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader) {
		w.acc.SetFlags(w.acc.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	if err := w.acc.Open(codec, nil); err != nil {
		return fmt.Errorf("recorder: opening audio encoder failed: %w", err)
	}

	w.as = w.fc.NewStream(codec)
	if w.as == nil {
		return errors.New("recorder: audio stream is nil")
	}
	if err := w.as.CodecParameters().FromCodecContext(w.acc); err != nil {
		return fmt.Errorf("recorder: copying audio codec parameters failed: %w", err)
	}
	w.as.SetTimeBase(w.acc.TimeBase())

	w.aframe = astiav.AllocFrame()
	w.closer.Add(w.aframe.Free)
	w.aframe.SetChannelLayout(astiav.ChannelLayoutStereo)
	w.aframe.SetSampleFormat(astiav.SampleFormatFltp)
	w.aframe.SetSampleRate(cfg.SampleRate)
	w.aframe.SetNbSamples(audioReadFrames)
	if err := w.aframe.AllocBuffer(0); err != nil {
		return fmt.Errorf("recorder: allocating audio frame buffer failed: %w", err)
	}

	w.apkt = astiav.AllocPacket()
	w.closer.Add(w.apkt.Free)

	return nil
}

// Encode converts one RGBA frame to the encoder pixel format and encodes
// it at the given pts (in frame-rate time base units).
func (w *avWriter) Encode(img image.Image, pts int64) error {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	if err := w.srcFrame.Data().FromImage(rgba); err != nil {
		return fmt.Errorf("loading frame data failed: %w", err)
	}

	if err := w.sws.ScaleFrame(w.srcFrame, w.dstFrame); err != nil {
		return fmt.Errorf("scaling frame failed: %w", err)
	}
	w.dstFrame.SetPts(pts)

	return w.encodeVideo(w.dstFrame)
}

func (w *avWriter) encodeVideo(f *astiav.Frame) error {
	if err := w.vcc.SendFrame(f); err != nil {
		return fmt.Errorf("sending frame to video encoder failed: %w", err)
	}

	for {
		if err := w.vcc.ReceivePacket(w.vpkt); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return nil
			}
			return fmt.Errorf("receiving video packet failed: %w", err)
		}

		w.vpkt.SetStreamIndex(w.vs.Index())
		w.vpkt.RescaleTs(w.vcc.TimeBase(), w.vs.TimeBase())

		if err := w.mux(w.vpkt); err != nil {
			return err
		}
	}
}

// Flush drains the video encoder's buffered frames.
func (w *avWriter) Flush() error {
	return w.encodeVideo(nil)
}

// EncodeAudio implements audioSink.Encode: interleaved float32 samples
// are transposed to the encoder's planar layout; timestamps accumulate
// from the sample count.
func (w *avWriter) EncodeAudio(samples []float32) error {
	w.aframe.SetNbSamples(len(samples) / w.channels)
	if err := w.aframe.Data().SetBytes(interleavedToPlanar(samples, w.channels), 0); err != nil {
		return fmt.Errorf("loading audio frame data failed: %w", err)
	}
	w.aframe.SetPts(w.audioPts)
	w.audioPts += int64(len(samples) / w.channels)

	return w.encodeAudioFrame(w.aframe)
}

func (w *avWriter) encodeAudioFrame(f *astiav.Frame) error {
	if err := w.acc.SendFrame(f); err != nil {
		return fmt.Errorf("sending frame to audio encoder failed: %w", err)
	}

	for {
		if err := w.acc.ReceivePacket(w.apkt); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return nil
			}
			return fmt.Errorf("receiving audio packet failed: %w", err)
		}

		w.apkt.SetStreamIndex(w.as.Index())
		w.apkt.RescaleTs(w.acc.TimeBase(), w.as.TimeBase())

		if err := w.mux(w.apkt); err != nil {
			return err
		}
	}
}

// FlushAudio drains the audio encoder.
func (w *avWriter) FlushAudio() error {
	return w.encodeAudioFrame(nil)
}

func (w *avWriter) mux(pkt *astiav.Packet) error {
	w.muxMu.Lock()
	defer w.muxMu.Unlock()
	defer pkt.Unref()
	if err := w.fc.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("muxing packet failed: %w", err)
	}
	return nil
}

// Close writes the container trailer and frees every codec resource.
// Callers must have flushed the encoders first.
func (w *avWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if werr := w.fc.WriteTrailer(); werr != nil {
			err = fmt.Errorf("recorder: writing trailer failed: %w", werr)
		}
		if w.ioCtx != nil {
			if cerr := w.ioCtx.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("recorder: closing output file failed: %w", cerr)
			}
			w.ioCtx.Free()
		}
		w.closer.Close()
	})
	return err
}

// interleavedToPlanar transposes [L R L R ...] into the plane-contiguous
// layout planar sample formats expect.
func interleavedToPlanar(in []float32, channels int) []byte {
	frames := len(in) / channels
	out := make([]byte, len(in)*4)
	for ch := 0; ch < channels; ch++ {
		base := ch * frames * 4
		for i := 0; i < frames; i++ {
			bits := math.Float32bits(in[i*channels+ch])
			binary.LittleEndian.PutUint32(out[base+i*4:], bits)
		}
	}
	return out
}
