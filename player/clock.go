package player

import "sync"

// Clock is the shared presentation clock: the timestamp of the most recent
// audio frame handed to the output device, in media seconds, plus the
// index of the decoded unit that produced it. The audio loop writes it,
// the video loop reads it; when no audio track is playing the video loop
// writes it instead so playback position stays observable.
type Clock struct {
	mu    sync.Mutex
	pts   float64
	index int64
}

// Set publishes a new clock value. index is the frame or sample batch
// ordinal within the current pass.
func (c *Clock) Set(pts float64, index int64) {
	c.mu.Lock()
	c.pts = pts
	c.index = index
	c.mu.Unlock()
}

// Now returns the last published clock value, the last Reset target if
// nothing was published since, or 0 right after construction.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pts
}

// Index returns the ordinal recorded with the last Set.
func (c *Clock) Index() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Reset rewrites the clock to a seek target. The non-decreasing guarantee
// holds between resets, not across them.
func (c *Clock) Reset(target float64) {
	c.mu.Lock()
	c.pts = target
	c.index = 0
	c.mu.Unlock()
}
