package chain

import (
	"sync/atomic"
	"time"
)

// Clock supplies the current block timestamp in unix seconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

// Now returns the current unix time.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock returns a clock fixed at ts.
func NewManualClock(ts uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(ts)
	return c
}

// Now returns the configured timestamp.
func (c *ManualClock) Now() uint64 {
	return c.now.Load()
}

// Set moves the clock to ts.
func (c *ManualClock) Set(ts uint64) {
	c.now.Store(ts)
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d uint64) {
	c.now.Add(d)
}
