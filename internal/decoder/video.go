package decoder

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/GoldenFealla/AVPlayerGo/media"
)

// VideoStream is a pull cursor over a source's video track. ReadFrame and
// Seek serialize on the stream mutex, so the transport controller may
// reposition the cursor while the decode loop is parked at the pause
// gate.
type VideoStream struct {
	mu sync.Mutex

	fc *astiav.FormatContext
	st *astiav.Stream
	cc *astiav.CodecContext

	pkt *astiav.Packet
	f   *astiav.Frame

	closer   *astikit.Closer
	timeBase float64
	draining bool
}

func newVideoStream(fc *astiav.FormatContext, closeInput func()) (*VideoStream, error) {
	st, cc, err := findCodec(fc, astiav.MediaTypeVideo)
	if err != nil {
		return nil, fmt.Errorf("video stream: %w", err)
	}
	if st == nil {
		return nil, media.ErrNoVideo
	}

	vs := &VideoStream{
		fc:       fc,
		st:       st,
		cc:       cc,
		closer:   astikit.NewCloser(),
		timeBase: float64(st.TimeBase().Num()) / float64(st.TimeBase().Den()),
	}

	vs.closer.Add(closeInput)
	vs.closer.Add(cc.Free)

	vs.pkt = astiav.AllocPacket()
	vs.closer.Add(vs.pkt.Free)

	vs.f = astiav.AllocFrame()
	vs.closer.Add(vs.f.Free)

	return vs, nil
}

func (vs *VideoStream) probe() media.Info {
	fr := vs.st.AvgFrameRate()
	fps := 0.0
	if fr.Den() != 0 {
		fps = float64(fr.Num()) / float64(fr.Den())
	}

	duration := float64(vs.st.Duration()) * vs.timeBase
	if vs.st.Duration() <= 0 {
		duration = float64(vs.fc.Duration()) / 1e6 // AV_TIME_BASE units
	}

	return media.Info{
		Duration:  duration,
		FrameRate: fps,
		Width:     vs.cc.Width(),
		Height:    vs.cc.Height(),
		HasVideo:  true,
	}
}

// ReadFrame returns the next decoded frame as a displayable image, or
// io.EOF at the end of the stream.
func (vs *VideoStream) ReadFrame() (media.VideoFrame, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	for {
		err := vs.cc.ReceiveFrame(vs.f)
		if err == nil {
			return vs.convert()
		}
		if errors.Is(err, astiav.ErrEof) {
			return media.VideoFrame{}, io.EOF
		}
		if !errors.Is(err, astiav.ErrEagain) {
			return media.VideoFrame{}, fmt.Errorf("video: receiving frame failed: %w", err)
		}

		if err := vs.feed(); err != nil {
			return media.VideoFrame{}, err
		}
	}
}

// feed pushes the next packet of this stream into the decoder, or a flush
// packet at container EOF.
func (vs *VideoStream) feed() error {
	for {
		if err := vs.fc.ReadFrame(vs.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				if !vs.draining {
					vs.draining = true
					if err := vs.cc.SendPacket(nil); err != nil {
						return fmt.Errorf("video: flushing decoder failed: %w", err)
					}
				}
				return nil
			}
			return fmt.Errorf("video: reading packet failed: %w", err)
		}

		if vs.pkt.StreamIndex() != vs.st.Index() {
			vs.pkt.Unref()
			continue
		}

		err := vs.cc.SendPacket(vs.pkt)
		vs.pkt.Unref()
		if err != nil {
			return fmt.Errorf("video: sending packet failed: %w", err)
		}
		return nil
	}
}

func (vs *VideoStream) convert() (media.VideoFrame, error) {
	defer vs.f.Unref()

	img, err := vs.f.Data().GuessImageFormat()
	if err != nil {
		return media.VideoFrame{}, fmt.Errorf("video: guessing image format failed: %w", err)
	}

	if err := vs.f.Data().ToImage(img); err != nil {
		return media.VideoFrame{}, fmt.Errorf("video: converting frame failed: %w", err)
	}

	return media.VideoFrame{
		PTS:   float64(vs.f.Pts()) * vs.timeBase,
		Image: img,
	}, nil
}

// Seek repositions the cursor to the nearest keyframe at or before the
// target and resets the decoder state.
func (vs *VideoStream) Seek(seconds float64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	ts := int64(seconds / vs.timeBase)
	if err := vs.fc.SeekFrame(vs.st.Index(), ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("video: seeking failed: %w", err)
	}

	vs.cc.FlushBuffers()
	vs.draining = false
	return nil
}

func (vs *VideoStream) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.closer.Close()
	return nil
}
