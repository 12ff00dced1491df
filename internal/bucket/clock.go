package bucket

import (
	"sync/atomic"
	"time"
)

// Clock supplies monotonic time in nanoseconds. Only differences between two
// readings are meaningful.
type Clock interface {
	Now() int64
}

// MonotonicClock reads the runtime's monotonic clock relative to its creation.
// Wall-clock adjustments do not affect it.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock anchored at the current instant.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now returns nanoseconds elapsed since the clock was created.
func (c *MonotonicClock) Now() int64 {
	return int64(time.Since(c.start))
}

// ManualClock is a Clock that only moves when told to. It is safe for
// concurrent use.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock returns a clock reading start.
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

// Now returns the current reading.
func (c *ManualClock) Now() int64 {
	return c.now.Load()
}

// Advance moves the clock by d. A negative d moves it backwards, which lets
// tests simulate a misbehaving time source.
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}
