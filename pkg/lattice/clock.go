package lattice

import (
	"sync/atomic"
	"time"
)

// Clock issues strictly increasing logical timestamps for LWW writes.
//
// Timestamps follow wall-clock nanoseconds while the wall clock moves
// forward and fall back to last+1 otherwise, so ordering never depends on
// the wall clock being monotonic.
type Clock struct {
	last atomic.Uint64
	now  func() time.Time
}

// NewClock returns a Clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource returns a Clock reading wall time from now.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Next returns a timestamp greater than every value previously returned.
func (c *Clock) Next() uint64 {
	for {
		last := c.last.Load()
		next := uint64(c.now().UnixNano())
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
