package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a FakeClock reports when none is given.
var DefaultEpoch = time.Date(2025, 2, 24, 12, 0, 0, 0, time.UTC)

// FakeClock is a wall clock for tests that advances by a fixed step on every
// reading. Record timestamps produced through it are byte-identical between
// runs, which golden snapshots depend on.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFakeClock creates a clock whose first reading is start.
// A zero start means DefaultEpoch.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	return &FakeClock{now: start, step: step}
}

// Now returns the current instant, then advances by step.
// Matches the func() time.Time shape expected by node.WithNow.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the next reading without advancing.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without producing a reading.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset returns the clock to start. Used for test reuse.
func (c *FakeClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if start.IsZero() {
		start = DefaultEpoch
	}
	c.now = start
}
