package player

import (
	"testing"
	"time"
)

func TestGateWaitPassesWhenSet(t *testing.T) {
	t.Parallel()

	g := NewGate(true)

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on a set gate")
	}
}

func TestGateWaitBlocksUntilSet(t *testing.T) {
	t.Parallel()

	g := NewGate(false)

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned on a cleared gate")
	case <-time.After(50 * time.Millisecond):
	}

	g.Set()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Set")
	}
}

func TestGateClearAfterSet(t *testing.T) {
	t.Parallel()

	g := NewGate(true)
	g.Clear()
	if g.IsSet() {
		t.Error("gate still set after Clear")
	}
	g.Set()
	if !g.IsSet() {
		t.Error("gate not set after Set")
	}
}

func TestGateSetWakesAllWaiters(t *testing.T) {
	t.Parallel()

	g := NewGate(false)

	const n = 4
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			g.Wait()
			done <- struct{}{}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	g.Set()

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never woke", i)
		}
	}
}
