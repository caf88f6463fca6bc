package timebucket

import (
	"sync"
	"time"
)

// Clock is the time source injected into the store, the ingest manager and the syncer.
type Clock interface {
	Now() Instant
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() Instant {
	return Of(time.Now())
}

// FixedClock returns a settable instant. Safe for concurrent use.
type FixedClock struct {
	mu  sync.Mutex
	now Instant
}

// NewFixedClock returns a clock frozen at now.
func NewFixedClock(now Instant) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now() Instant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now.
func (c *FixedClock) Set(now Instant) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Plus(d)
	c.mu.Unlock()
}
