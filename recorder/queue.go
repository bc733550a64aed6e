package recorder

import (
	"image"
	"sync"
	"time"
)

// Queue is the bounded frame FIFO between the host render loop and the
// encode loop. Push never blocks: on overflow the oldest frame is evicted
// so staleness stays bounded instead of stalling the producer. Pop waits
// at most the given timeout so the consumer can observe stop promptly.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	frames []image.Image
	max    int

	head, count int
}

// NewQueue returns a queue holding at most max frames.
func NewQueue(max int) *Queue {
	q := &Queue{
		frames: make([]image.Image, max),
		max:    max,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a frame, evicting the oldest one first when full.
func (q *Queue) Push(img image.Image) {
	q.mu.Lock()
	if q.count == q.max {
		q.frames[q.head] = nil
		q.head = (q.head + 1) % q.max
		q.count--
	}
	q.frames[(q.head+q.count)%q.max] = img
	q.count++
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pop dequeues the oldest frame, waiting up to timeout for one to arrive.
// The second return is false on timeout.
func (q *Queue) Pop(timeout time.Duration) (image.Image, bool) {
	deadline := time.Now().Add(timeout)
	wake := time.AfterFunc(timeout, q.cond.Broadcast)
	defer wake.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 {
		if !time.Now().Before(deadline) {
			return nil, false
		}
		q.cond.Wait()
	}

	img := q.frames[q.head]
	q.frames[q.head] = nil
	q.head = (q.head + 1) % q.max
	q.count--
	return img, true
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
