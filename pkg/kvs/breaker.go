package kvs

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	breakerClosed   = 0
	breakerHalfOpen = 1
	breakerOpen     = 2
)

// Breaker stops a client from dialing routing servers that keep failing.
// After threshold consecutive transport failures it opens; once cooldown has
// passed since the last failure a single trial request is let through (half-open).
type Breaker struct {
	failures    int32
	state       int32
	lastFailure atomic.Value
	threshold   int32
	cooldown    time.Duration
	mu          sync.Mutex
	now         func() time.Time
}

// NewBreaker creates a closed breaker. A non-positive threshold disables it.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	b := &Breaker{
		threshold: int32(threshold),
		cooldown:  cooldown,
		now:       time.Now,
	}
	b.lastFailure.Store(time.Time{})
	return b
}

// Allow reports whether a request may be sent.
func (b *Breaker) Allow() bool {
	if b.threshold <= 0 {
		return true
	}
	switch atomic.LoadInt32(&b.state) {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		return false
	}

	last := b.lastFailure.Load().(time.Time)
	if b.now().Sub(last) < b.cooldown {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if atomic.LoadInt32(&b.state) == breakerOpen {
		atomic.StoreInt32(&b.state, breakerHalfOpen)
		return true
	}
	// Another caller already took the half-open trial.
	return false
}

// Success closes the breaker and clears the failure count.
func (b *Breaker) Success() {
	atomic.StoreInt32(&b.failures, 0)
	if atomic.LoadInt32(&b.state) != breakerClosed {
		b.mu.Lock()
		atomic.StoreInt32(&b.state, breakerClosed)
		b.mu.Unlock()
	}
}

// Failure records a transport failure and reports whether the breaker is
// now open.
func (b *Breaker) Failure() bool {
	if b.threshold <= 0 {
		return false
	}

	n := atomic.AddInt32(&b.failures, 1)
	b.lastFailure.Store(b.now())

	b.mu.Lock()
	defer b.mu.Unlock()
	state := atomic.LoadInt32(&b.state)
	if state == breakerHalfOpen || (state == breakerClosed && n >= b.threshold) {
		atomic.StoreInt32(&b.state, breakerOpen)
	}
	return atomic.LoadInt32(&b.state) == breakerOpen
}

// State returns closed, half-open or open.
func (b *Breaker) State() string {
	switch atomic.LoadInt32(&b.state) {
	case breakerClosed:
		return "closed"
	case breakerHalfOpen:
		return "half-open"
	case breakerOpen:
		return "open"
	default:
		return "unknown"
	}
}
