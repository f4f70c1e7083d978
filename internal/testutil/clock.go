// Package testutil provides deterministic helpers for tests and the
// scenario harness.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock hands out a fixed, steadily advancing wall clock
// so journaled timestamps are reproducible across runs.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock starting at a fixed instant,
// advancing one second per reading.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{
		now:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

// Now returns the current instant and advances the clock. Suitable as
// an engine.WithNow source.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will produce.
func (c *DeterministicClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
