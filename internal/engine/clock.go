package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps every event with a
// strictly increasing sequence number. Logical sequence numbers, not
// wall-clock time, define event order: replay reproduces the exact
// same order regardless of when it runs.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// although the single-writer case loop means only one goroutine
// typically calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used by replay to resume from the last journaled position.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the clock position without advancing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
