package player

import "sync"

// Gate is a binary gate both decode loops wait on. Clearing it parks the
// loops at their next wait point; setting it releases them. Zero value is
// unusable, use NewGate.
type Gate struct {
	mu   sync.Mutex
	cond *sync.Cond
	set  bool
}

// NewGate returns a gate in the given initial state.
func NewGate(set bool) *Gate {
	g := &Gate{set: set}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Wait blocks until the gate is set. Returns immediately if it already is.
func (g *Gate) Wait() {
	g.mu.Lock()
	for !g.set {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// Set opens the gate and wakes every waiter.
func (g *Gate) Set() {
	g.mu.Lock()
	g.set = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Clear closes the gate. Loops already past their wait point finish the
// current iteration before parking.
func (g *Gate) Clear() {
	g.mu.Lock()
	g.set = false
	g.mu.Unlock()
}

// IsSet reports whether the gate is open.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}
