package player

import (
	"image"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/GoldenFealla/AVPlayerGo/media"
)

// fakeVideoSource serves a fixed number of synthetic frames per pass at a
// nominal frame rate, restartable via Seek like a real decode cursor.
type fakeVideoSource struct {
	mu     sync.Mutex
	fps    float64
	frames int // per pass; 0 means unbounded

	next   int
	reads  int
	seeks  []float64
	closed bool

	images []*image.RGBA
}

func newFakeVideo(fps float64, frames int) *fakeVideoSource {
	return &fakeVideoSource{fps: fps, frames: frames}
}

func (s *fakeVideoSource) ReadFrame() (media.VideoFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frames > 0 && s.next >= s.frames {
		return media.VideoFrame{}, io.EOF
	}

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	s.images = append(s.images, img)
	f := media.VideoFrame{PTS: float64(s.next) / s.fps, Image: img}
	s.next++
	s.reads++
	return f, nil
}

func (s *fakeVideoSource) Seek(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = int(seconds * s.fps)
	s.seeks = append(s.seeks, seconds)
	return nil
}

func (s *fakeVideoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeVideoSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeVideoSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *fakeVideoSource) lastImage() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.images) == 0 {
		return nil
	}
	return s.images[len(s.images)-1]
}

// fakeAudioSource serves batches of all-ones samples. ptsStep is the
// media-time distance between batches.
type fakeAudioSource struct {
	mu      sync.Mutex
	ptsStep float64
	batch   int
	next    int
}

func (s *fakeAudioSource) ReadFrame() (media.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := make([]float32, s.batch*outputChannels)
	for i := range samples {
		samples[i] = 1
	}
	f := media.AudioFrame{PTS: float64(s.next) * s.ptsStep, Samples: samples}
	s.next++
	return f, nil
}

func (s *fakeAudioSource) Seek(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptsStep > 0 {
		s.next = int(seconds / s.ptsStep)
	}
	return nil
}

func (s *fakeAudioSource) Close() error { return nil }

// fakeAudioOutput hands every written batch to the test over a channel.
// Close unblocks an in-flight Write the way the real device pipe does.
type fakeAudioOutput struct {
	ch        chan []float32
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeOutput() *fakeAudioOutput {
	return &fakeAudioOutput{ch: make(chan []float32), closed: make(chan struct{})}
}

func (o *fakeAudioOutput) Write(samples []float32) error {
	select {
	case o.ch <- samples:
		return nil
	case <-o.closed:
		return media.ErrOutputClosed
	}
}

func (o *fakeAudioOutput) Close() error {
	o.closeOnce.Do(func() { close(o.closed) })
	return nil
}

func testInfo(fps float64, duration float64) media.Info {
	return media.Info{Duration: duration, FrameRate: fps, Width: 2, Height: 2, HasVideo: true}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	src := newFakeVideo(200, 0)
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 10), src, nil, nil, cfg)
	p.Start()

	waitUntil(t, time.Second, func() bool { return src.readCount() > 0 })

	if err := p.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if !p.Stopped() {
		t.Fatal("not stopped after Stop")
	}
	if !src.isClosed() {
		t.Error("video source not closed by Stop")
	}
	pos := p.Position()

	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if !p.Stopped() || p.Position() != pos {
		t.Error("second Stop changed observable state")
	}
}

func TestStopDoesNotDeadlockWhilePaused(t *testing.T) {
	t.Parallel()

	src := newFakeVideo(200, 0)
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 10), src, nil, nil, cfg)
	p.Start()

	waitUntil(t, time.Second, func() bool { return src.readCount() > 0 })
	p.TogglePause()

	done := make(chan error, 1)
	go func() { done <- p.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop deadlocked on a paused session")
	}
}

func TestLoopSemantics(t *testing.T) {
	t.Parallel()

	// loop=2 over a 3-frame stream: the counter must read exactly 2 when
	// the session stops, with all 6 frames decoded in order.
	src := newFakeVideo(200, 3)
	cfg := DefaultConfig()
	cfg.Loop = 2
	p := NewPlayer(testInfo(200, 3.0/200), src, nil, nil, cfg)
	p.Start()

	if !waitUntil(t, 5*time.Second, p.Stopped) {
		t.Fatal("session never stopped")
	}
	if got := p.VideoLoops(); got != 2 {
		t.Errorf("VideoLoops() = %d, want 2", got)
	}
	if got := src.readCount(); got != 6 {
		t.Errorf("frames decoded = %d, want 6", got)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestEndToEndAudiolessClip(t *testing.T) {
	t.Parallel()

	// A 20-frame clip at 100fps with loop=1 must stop on its own with
	// every frame decoded and the last one left in the buffer.
	src := newFakeVideo(100, 20)
	p := NewPlayer(testInfo(100, 0.2), src, nil, nil, DefaultConfig())
	p.Start()

	if !waitUntil(t, 5*time.Second, p.Stopped) {
		t.Fatal("session never stopped on its own")
	}
	if got := src.readCount(); got < 19 || got > 21 {
		t.Errorf("frames decoded = %d, want 20 +-1", got)
	}
	if got := p.GetFrame(nil); got != src.lastImage() {
		t.Error("frame buffer does not hold the last decoded frame")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestVideoLoopIsTimingAuthorityWithoutAudio(t *testing.T) {
	t.Parallel()

	src := newFakeVideo(200, 0)
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 10), src, nil, nil, cfg)
	p.Start()
	defer p.Stop()

	if !waitUntil(t, time.Second, func() bool { return p.Position() > 0 }) {
		t.Error("presentation clock never advanced without audio")
	}
}

func TestMoveResetsClockAndCursors(t *testing.T) {
	t.Parallel()

	src := newFakeVideo(20, 0)
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(20, 10), src, nil, nil, cfg)
	p.Start()
	defer p.Stop()

	waitUntil(t, time.Second, func() bool { return src.readCount() > 0 })
	p.TogglePause()

	if err := p.Move(1.0); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := p.Position(); got != 1.0 {
		t.Errorf("Position() = %v right after Move, want 1.0", got)
	}
	if !p.Paused() {
		t.Error("Move changed pause state")
	}

	before := src.readCount()
	p.TogglePause()
	if !waitUntil(t, time.Second, func() bool { return src.readCount() > before }) {
		t.Fatal("no frame decoded after resume")
	}
	if got, want := p.Position(), 1.0; math.Abs(got-want) > 2.0/20 {
		t.Errorf("Position() = %v after first post-seek frame, want within a frame period of %v", got, want)
	}
}

func TestMoveClampsIntoDuration(t *testing.T) {
	t.Parallel()

	src := newFakeVideo(20, 0)
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(20, 5), src, nil, nil, cfg)
	p.Start()
	defer p.Stop()

	p.TogglePause()
	if err := p.Move(100); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := p.Position(); got != 5 {
		t.Errorf("Position() = %v after over-range Move, want clamped 5", got)
	}
	if err := p.Move(-3); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := p.Position(); got != 0 {
		t.Errorf("Position() = %v after negative Move, want 0", got)
	}
}

func TestResumeAfterMoveDiscardsHeldFrame(t *testing.T) {
	t.Parallel()

	src := newFakeVideo(200, 0)
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 10), src, nil, nil, cfg)
	p.Start()
	defer p.Stop()

	waitUntil(t, time.Second, func() bool { return src.readCount() > 0 })
	p.TogglePause()

	// The parked loop holds a frame decoded before the seek; on resume it
	// must be discarded, never presented or written into the clock.
	if err := p.Move(5.0); err != nil {
		t.Fatalf("Move: %v", err)
	}
	p.TogglePause()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if got := p.Position(); got < 5.0 {
			t.Fatalf("Position() = %v after Move(5), pre-seek frame escaped the pause gate", got)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestResumeAfterMoveDiscardsHeldAudioBatch(t *testing.T) {
	t.Parallel()

	video := newFakeVideo(200, 0)
	audio := &fakeAudioSource{ptsStep: 0.01, batch: 4}
	out := newFakeOutput()
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 10), video, audio, out, cfg)
	p.Start()
	defer p.Stop()

	<-out.ch
	p.TogglePause()
	if err := p.Move(5.0); err != nil {
		t.Fatalf("Move: %v", err)
	}
	p.TogglePause()

	<-out.ch // first post-resume batch has been clocked by now
	if got := p.Position(); got < 5.0 {
		t.Fatalf("Position() = %v after Move(5), stale batch reached the clock", got)
	}
}

func TestPauseToggleRoundTrip(t *testing.T) {
	t.Parallel()

	src := newFakeVideo(200, 0)
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 10), src, nil, nil, cfg)
	p.Start()
	defer p.Stop()

	p.TogglePause()
	p.TogglePause()
	if p.Paused() {
		t.Error("Paused() = true after a toggle round trip")
	}

	before := src.readCount()
	if !waitUntil(t, time.Second, func() bool { return src.readCount() > before }) {
		t.Error("playback did not continue after a toggle round trip")
	}
}

func TestVolumeAppliesToNextBatchOnly(t *testing.T) {
	t.Parallel()

	video := newFakeVideo(200, 0)
	audio := &fakeAudioSource{ptsStep: 0.01, batch: 4}
	out := newFakeOutput()
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 10), video, audio, out, cfg)
	p.Start()
	defer p.Stop()

	first := <-out.ch
	for _, s := range first {
		if s != 1 {
			t.Fatalf("initial batch sample = %v, want 1", s)
		}
	}

	p.SetVolume(0.5)

	// At most one in-flight batch may still carry the old volume.
	var scaled []float32
	for i := 0; i < 3; i++ {
		b := <-out.ch
		if b[0] == 0.5 {
			scaled = b
			break
		}
	}
	if scaled == nil {
		t.Fatal("volume change never reached the output")
	}
	for _, s := range scaled {
		if s != 0.5 {
			t.Errorf("scaled sample = %v, want 0.5", s)
		}
	}

	// Already-emitted samples are never touched retroactively.
	for _, s := range first {
		if s != 1 {
			t.Fatal("volume change mutated an already-emitted batch")
		}
	}
}

func TestLateFramesAreDropped(t *testing.T) {
	t.Parallel()

	// Audio pins the clock far ahead of every video pts, so every video
	// frame is unrecoverably late and must be discarded, not displayed.
	// The video stream is bounded so looping passes can never catch up
	// with the pinned clock.
	video := newFakeVideo(200, 50)
	audio := &fakeAudioSource{ptsStep: 1000, batch: 4}
	audio.next = 1 // first batch at pts 1000
	out := newFakeOutput()
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 1e6), video, audio, out, cfg)
	p.Start()
	defer p.Stop()

	<-out.ch // clock now points far ahead

	// A frame that predates the first clock write may still land; let it,
	// then clear the slot and require silence from there on.
	time.Sleep(50 * time.Millisecond)
	p.GetFrame(nil)

	before := video.readCount()
	if !waitUntil(t, time.Second, func() bool { return video.readCount() > before+5 }) {
		t.Fatal("video loop stalled")
	}
	if p.frame.Fresh() {
		t.Error("a late frame was published")
	}
}

func TestTransportOpsAfterStopAreNoOps(t *testing.T) {
	t.Parallel()

	src := newFakeVideo(200, 0)
	cfg := DefaultConfig()
	cfg.Loop = 0
	p := NewPlayer(testInfo(200, 10), src, nil, nil, cfg)
	p.Start()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	p.TogglePause()
	if p.Paused() {
		t.Error("TogglePause took effect after Stop")
	}
	if err := p.Move(1); err != nil {
		t.Errorf("Move after Stop: %v", err)
	}
	p.SetVolume(0.3)
	p.SetSpeed(2)
}

func TestConfigClamps(t *testing.T) {
	t.Parallel()

	cfg := Config{Speed: 100, Volume: 7, Loop: -2}
	p := NewPlayer(testInfo(30, 1), newFakeVideo(30, 0), nil, nil, cfg)

	if got := p.Speed(); got != MaxSpeed {
		t.Errorf("Speed() = %v, want clamped %v", got, MaxSpeed)
	}
	if got := p.Volume(); got != 1 {
		t.Errorf("Volume() = %v, want clamped 1", got)
	}

	p.SetSpeed(0.0001)
	if got := p.Speed(); got != MinSpeed {
		t.Errorf("SetSpeed below bound: Speed() = %v, want %v", got, MinSpeed)
	}
	p.DecreaseVolume(5)
	if got := p.Volume(); got != 0 {
		t.Errorf("DecreaseVolume below bound: Volume() = %v, want 0", got)
	}
}

func TestStretchNearestNeighbor(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0, 1, 1, 2, 2, 3, 3} // 4 stereo frames
	out := stretch(in, 2, 2)
	want := []float32{0, 0, 2, 2}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}

	// Slowing down repeats frames instead of inventing samples.
	out = stretch(in, 2, 0.5)
	if len(out) != 16 {
		t.Fatalf("half-speed len = %d, want 16", len(out))
	}
	if out[0] != 0 || out[2] != 0 || out[4] != 1 {
		t.Error("half-speed stretch did not repeat source frames")
	}
}
