// Package clock implements the Lamport logical clock used by every node.
//
// The clock is pure state: an integer counter and two update rules.
//
//   - Tick: a local event (internal or send). counter += 1.
//   - Witness: a receive event. counter = max(counter, remote) + 1.
//
// Both rules return the post-update value. Neither performs I/O, which keeps
// the ordering property testable without a network: if event A causally
// precedes event B then Tick/Witness guarantee value(A) < value(B).
package clock

import "sync/atomic"

// Clock is a monotonic Lamport clock.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// However, the node's single scheduling loop is the only writer in practice;
// other goroutines only call Current() (metrics, supervisors).
type Clock struct {
	value atomic.Int64
}

// New creates a new clock starting at 0.
func New() *Clock {
	return &Clock{}
}

// NewAt creates a new clock starting at a specific value.
// Negative start values are clamped to 0.
func NewAt(start int64) *Clock {
	c := &Clock{}
	if start > 0 {
		c.value.Store(start)
	}
	return c
}

// Tick applies the local-event rule and returns the new value.
func (c *Clock) Tick() int64 {
	return c.value.Add(1)
}

// Witness applies the receive rule for a remote timestamp and returns the
// new value. Validating remote is the caller's job; a negative value simply
// never wins the max.
func (c *Clock) Witness(remote int64) int64 {
	for {
		cur := c.value.Load()
		next := max(cur, remote) + 1
		if c.value.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Current returns the current value without advancing the clock.
func (c *Clock) Current() int64 {
	return c.value.Load()
}
