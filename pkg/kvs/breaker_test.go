package kvs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow())
	assert.False(t, b.Failure())
	assert.Equal(t, "closed", b.State())

	assert.True(t, b.Failure())
	assert.Equal(t, "open", b.State())
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow(), "cooldown elapsed, trial allowed")
	assert.Equal(t, "half-open", b.State())
	assert.False(t, b.Allow(), "only one trial at a time")

	assert.True(t, b.Failure(), "failed trial reopens")
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	b.Success()
	assert.Equal(t, "closed", b.State())
	assert.True(t, b.Allow())
}

func TestBreakerDisabled(t *testing.T) {
	b := NewBreaker(0, time.Minute)
	for i := 0; i < 10; i++ {
		assert.False(t, b.Failure())
	}
	assert.True(t, b.Allow())
}
