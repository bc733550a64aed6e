package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/GoldenFealla/AVPlayerGo/media"
)

// Output layout every audio frame is resampled to before it leaves this
// package: interleaved float32 stereo, ready for the output device.
var (
	outputChannelLayout = astiav.ChannelLayoutStereo
	outputSampleFormat  = astiav.SampleFormatFlt
)

// AudioStream is a pull cursor over a source's audio track, resampling
// each decoded frame to the output format. Same locking contract as
// VideoStream.
type AudioStream struct {
	mu sync.Mutex

	fc *astiav.FormatContext
	st *astiav.Stream
	cc *astiav.CodecContext

	pkt *astiav.Packet
	f   *astiav.Frame
	rf  *astiav.Frame

	swr *astiav.SoftwareResampleContext

	closer   *astikit.Closer
	timeBase float64
	draining bool
}

func newAudioStream(fc *astiav.FormatContext, closeInput func(), sampleRate int) (*AudioStream, error) {
	st, cc, err := findCodec(fc, astiav.MediaTypeAudio)
	if err != nil {
		return nil, fmt.Errorf("audio stream: %w", err)
	}
	if st == nil {
		return nil, media.ErrNoAudio
	}

	as := &AudioStream{
		fc:       fc,
		st:       st,
		cc:       cc,
		closer:   astikit.NewCloser(),
		timeBase: float64(st.TimeBase().Num()) / float64(st.TimeBase().Den()),
	}

	as.closer.Add(closeInput)
	as.closer.Add(cc.Free)

	as.pkt = astiav.AllocPacket()
	as.closer.Add(as.pkt.Free)

	as.f = astiav.AllocFrame()
	as.closer.Add(as.f.Free)

	as.rf = astiav.AllocFrame()
	as.closer.Add(as.rf.Free)
	as.rf.SetChannelLayout(outputChannelLayout)
	as.rf.SetSampleFormat(outputSampleFormat)
	as.rf.SetSampleRate(sampleRate)

	as.swr = astiav.AllocSoftwareResampleContext()
	as.closer.Add(as.swr.Free)

	return as, nil
}

// ReadFrame returns the next batch of resampled samples, or io.EOF at the
// end of the stream.
func (as *AudioStream) ReadFrame() (media.AudioFrame, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	for {
		err := as.cc.ReceiveFrame(as.f)
		if err == nil {
			return as.resample()
		}
		if errors.Is(err, astiav.ErrEof) {
			return media.AudioFrame{}, io.EOF
		}
		if !errors.Is(err, astiav.ErrEagain) {
			return media.AudioFrame{}, fmt.Errorf("audio: receiving frame failed: %w", err)
		}

		if err := as.feed(); err != nil {
			return media.AudioFrame{}, err
		}
	}
}

func (as *AudioStream) feed() error {
	for {
		if err := as.fc.ReadFrame(as.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				if !as.draining {
					as.draining = true
					if err := as.cc.SendPacket(nil); err != nil {
						return fmt.Errorf("audio: flushing decoder failed: %w", err)
					}
				}
				return nil
			}
			return fmt.Errorf("audio: reading packet failed: %w", err)
		}

		if as.pkt.StreamIndex() != as.st.Index() {
			as.pkt.Unref()
			continue
		}

		err := as.cc.SendPacket(as.pkt)
		as.pkt.Unref()
		if err != nil {
			return fmt.Errorf("audio: sending packet failed: %w", err)
		}
		return nil
	}
}

func (as *AudioStream) resample() (media.AudioFrame, error) {
	defer as.f.Unref()

	if err := as.swr.ConvertFrame(as.f, as.rf); err != nil {
		return media.AudioFrame{}, fmt.Errorf("audio: resampling frame failed: %w", err)
	}

	n := as.rf.NbSamples()
	if n == 0 {
		// Resampler buffered everything; report an empty batch at this pts.
		return media.AudioFrame{PTS: float64(as.f.Pts()) * as.timeBase}, nil
	}

	b, err := as.rf.Data().Bytes(0)
	if err != nil {
		return media.AudioFrame{}, fmt.Errorf("audio: reading samples failed: %w", err)
	}

	want := n * outputChannelLayout.Channels() * 4
	if len(b) > want {
		b = b[:want]
	}

	return media.AudioFrame{
		PTS:     float64(as.f.Pts()) * as.timeBase,
		Samples: bytesToFloat32(b),
	}, nil
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Seek repositions the cursor and resets the decoder state.
func (as *AudioStream) Seek(seconds float64) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	ts := int64(seconds / as.timeBase)
	if err := as.fc.SeekFrame(as.st.Index(), ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("audio: seeking failed: %w", err)
	}

	as.cc.FlushBuffers()
	as.draining = false
	return nil
}

func (as *AudioStream) Close() error {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.closer.Close()
	return nil
}
