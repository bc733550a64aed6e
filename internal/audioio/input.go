package audioio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// inputBufferFrames bounds the capture ring: roughly half a second at
// 44.1kHz. Past it the oldest samples are discarded and the overflow flag
// raised, mirroring a device-side overrun.
const inputBufferFrames = 22050

// Input is a malgo-backed capture device.
type Input struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	mu         sync.Mutex
	cond       *sync.Cond
	buf        []float32
	channels   int
	overflowed bool
	closed     bool

	closeOnce sync.Once
}

// OpenInput opens the default capture device at the given rate and
// channel count, in float32.
func OpenInput(sampleRate, channels int) (*Input, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio input: creating context failed: %w", err)
	}

	in := &Input{ctx: ctx, channels: channels}
	in.cond = sync.NewCond(&in.mu)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)

	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			in.push(input, int(frameCount))
		},
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("audio input: creating device failed: %w", err)
	}
	in.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("audio input: starting device failed: %w", err)
	}

	return in, nil
}

func (in *Input) push(b []byte, frames int) {
	samples := make([]float32, frames*in.channels)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}

	in.mu.Lock()
	in.buf = append(in.buf, samples...)
	if limit := inputBufferFrames * in.channels; len(in.buf) > limit {
		in.buf = in.buf[len(in.buf)-limit:]
		in.overflowed = true
	}
	in.mu.Unlock()
	in.cond.Broadcast()
}

// Read blocks until n sample-frames are available and returns them along
// with whether the ring overflowed since the previous read. Returns
// io.EOF once the input has been closed.
func (in *Input) Read(n int) ([]float32, bool, error) {
	want := n * in.channels

	in.mu.Lock()
	defer in.mu.Unlock()

	for len(in.buf) < want && !in.closed {
		in.cond.Wait()
	}
	if in.closed {
		return nil, false, io.EOF
	}

	samples := make([]float32, want)
	copy(samples, in.buf[:want])
	in.buf = in.buf[want:]

	overflowed := in.overflowed
	in.overflowed = false
	return samples, overflowed, nil
}

// Close stops the device and unblocks any pending Read.
func (in *Input) Close() error {
	in.closeOnce.Do(func() {
		in.dev.Uninit()
		_ = in.ctx.Uninit()
		in.ctx.Free()

		in.mu.Lock()
		in.closed = true
		in.mu.Unlock()
		in.cond.Broadcast()
	})
	return nil
}
