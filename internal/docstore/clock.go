package docstore

import "sync/atomic"

// Clock is a monotonic logical clock stamping store writes.
//
// Every write takes the next version; snapshots of missing documents carry
// the clock's current value at read time. Versions let readers tell a stale
// result from a fresh one without comparing wall-clock timestamps.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from start, e.g. the highest version
// found in a persisted store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next version and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current version without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
