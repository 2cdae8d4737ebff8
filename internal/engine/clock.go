package engine

import "sync/atomic"

// Clock allocates transaction ids.
//
// Ids are strictly increasing and never reused. The engine seeds the clock
// from the highest durable id at startup, so ids continue across restarts.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock whose next id is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next transaction id and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last allocated id without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
