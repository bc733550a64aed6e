package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
)

// avseekSize is FFmpeg's AVSEEK_SIZE: the seek callback is asked for the
// total size of the source instead of repositioning.
const avseekSize = 0x10000

// OpenBytes opens an in-memory source for playback. Each track cursor
// gets its own reader so seeks stay independent, matching Open.
func OpenBytes(b []byte, sampleRate int) (*Container, error) {
	return open(func() (*astiav.FormatContext, func(), error) {
		return openReader(bytes.NewReader(b), int64(len(b)))
	}, sampleRate)
}

func openReader(r io.ReadSeeker, size int64) (*astiav.FormatContext, func(), error) {
	ic, err := astiav.AllocIOContext(
		4096,
		false,
		func(b []byte) (int, error) { return r.Read(b) },
		func(offset int64, whence int) (int64, error) {
			if whence == avseekSize {
				return size, nil
			}
			switch whence {
			case io.SeekStart, io.SeekCurrent, io.SeekEnd:
				return r.Seek(offset, whence)
			}
			return 0, errors.New("open bytes: invalid whence")
		},
		nil,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open bytes: allocating io context failed: %w", err)
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		ic.Free()
		return nil, nil, errors.New("open bytes: format context is nil")
	}
	fc.SetPb(ic)

	if err := fc.OpenInput("", nil, nil); err != nil {
		ic.Free()
		fc.Free()
		return nil, nil, fmt.Errorf("open bytes: opening input failed: %w", err)
	}

	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		ic.Free()
		fc.Free()
		return nil, nil, fmt.Errorf("open bytes: finding stream info failed: %w", err)
	}

	return fc, func() {
		fc.CloseInput()
		ic.Free()
		fc.Free()
	}, nil
}
