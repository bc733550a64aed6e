package player

import (
	"image"
	"sync"

	"github.com/nfnt/resize"
)

// FrameBuffer is a single-slot holder for the most recent decoded frame.
// The video loop replaces the slot, the host render loop borrows it under
// the lock. A freshness tag distinguishes a new frame from a re-read; Get
// never waits for a fresh frame.
type FrameBuffer struct {
	mu    sync.Mutex
	img   image.Image
	fresh bool
}

// NewFrameBuffer returns a buffer holding a blank canvas of the given
// size, so Get is valid before the first decoded frame lands.
func NewFrameBuffer(size image.Point) *FrameBuffer {
	return &FrameBuffer{
		img: image.NewRGBA(image.Rect(0, 0, size.X, size.Y)),
	}
}

// Publish replaces the held frame and marks it fresh.
func (fb *FrameBuffer) Publish(img image.Image) {
	fb.mu.Lock()
	fb.img = img
	fb.fresh = true
	fb.mu.Unlock()
}

// Get returns the held frame, scaled to size when size is non-nil and
// differs from the frame's own bounds, and marks the slot used. If no
// frame has been published since the last Get, the previous frame is
// returned again.
func (fb *FrameBuffer) Get(size *image.Point) image.Image {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if size != nil && fb.img.Bounds().Size() != *size {
		fb.img = resize.Resize(uint(size.X), uint(size.Y), fb.img, resize.Bilinear)
	}

	fb.fresh = false
	return fb.img
}

// Fresh reports whether the held frame has not been handed out yet.
func (fb *FrameBuffer) Fresh() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.fresh
}
