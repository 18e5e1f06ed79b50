package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func withClock(l *Limiter, c *fakeClock) *Limiter { l.now = c.now; return l }

func TestFixedWindowBoundary(t *testing.T) {
	clock := newFakeClock()
	l := withClock(New(Fixed, 3, time.Minute), clock)

	for i := 0; i < 3; i++ {
		d := l.Allow("1.2.3.4")
		require.True(t, d.Allowed, "request %d should fit the budget", i+1)
	}

	d := l.Allow("1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	// Window rollover restores the full budget at once.
	clock.advance(time.Minute)
	d = l.Allow("1.2.3.4")
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestSlidingWindowExpiresIndividually(t *testing.T) {
	clock := newFakeClock()
	l := withClock(New(Sliding, 2, time.Minute), clock)

	require.True(t, l.Allow("id").Allowed)
	clock.advance(30 * time.Second)
	require.True(t, l.Allow("id").Allowed)
	require.False(t, l.Allow("id").Allowed)

	// Only the first stamp has aged out after 31 more seconds.
	clock.advance(31 * time.Second)
	require.True(t, l.Allow("id").Allowed)
	require.False(t, l.Allow("id").Allowed)
}

func TestSlidingRetryAfterHint(t *testing.T) {
	clock := newFakeClock()
	l := withClock(New(Sliding, 1, time.Minute), clock)

	require.True(t, l.Allow("id").Allowed)
	clock.advance(20 * time.Second)
	d := l.Allow("id")
	require.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
}

func TestIdentitiesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := withClock(New(Fixed, 1, time.Minute), clock)

	require.True(t, l.Allow("a").Allowed)
	require.False(t, l.Allow("a").Allowed)
	require.True(t, l.Allow("b").Allowed)
}

func TestIdentitySetIsBounded(t *testing.T) {
	clock := newFakeClock()
	l := withClock(New(Fixed, 1, time.Minute), clock)

	for i := 0; i < defaultMaxIdentities+100; i++ {
		l.Allow(fmt.Sprintf("id-%d", i))
	}
	assert.LessOrEqual(t, l.entries.Len(), defaultMaxIdentities)
}
