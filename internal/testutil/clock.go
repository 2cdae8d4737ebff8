package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a StepClock returns.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall-clock source for tests. Every call to
// Now advances it by one second, so transaction timestamps are reproducible
// in golden output.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	next time.Time
}

// NewStepClock creates a clock whose first Now() returns Epoch.
func NewStepClock() *StepClock {
	return &StepClock{next: Epoch}
}

// Now returns the current instant and advances by one second.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

// Reset rewinds the clock to Epoch.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = Epoch
}
