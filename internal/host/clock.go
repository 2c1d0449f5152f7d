package host

import (
	"sync"
	"time"
)

// Clock supplies the block timestamp in unix seconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// ManualClock is a settable clock for tests and development nodes.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock creates a clock frozen at now.
func NewManualClock(now uint64) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the current frozen time.
func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Set moves the clock to t. Moving backwards is ignored so time stays monotonic.
func (c *ManualClock) Set(t uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t > c.now {
		c.now = t
	}
}

// Advance moves the clock forward by seconds and returns the new time.
func (c *ManualClock) Advance(seconds uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now += seconds

	return c.now
}
