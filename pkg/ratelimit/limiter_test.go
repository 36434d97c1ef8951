package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances manually for deterministic window tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time             { return c.t }
func (c *fakeClock) Advance(d time.Duration)    { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock                  { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }
func withClock(l *Limiter, c *fakeClock) *Limiter {
	l.now = c.Now
	return l
}

func TestAdmitUnderLimit(t *testing.T) {
	l := NewLimiter(3)

	assert.True(t, l.Admit("x"))
	assert.True(t, l.Admit("x"))
	assert.True(t, l.Admit("x"))
	assert.False(t, l.Admit("x"))
}

func TestWindowDrain(t *testing.T) {
	clock := newFakeClock()
	l := withClock(NewLimiter(2), clock)

	require.True(t, l.Admit("x"))
	clock.Advance(100 * time.Millisecond)
	require.True(t, l.Admit("x"))
	clock.Advance(100 * time.Millisecond)

	// Third call at t=0.2 refused; oldest entry leaves at t=60.
	assert.False(t, l.Admit("x"))
	wait := l.WaitTime("x")
	assert.InDelta(t, 59.8, wait.Seconds(), 0.01)

	// At t=61 the window has drained.
	clock.Advance(61 * time.Second)
	assert.True(t, l.Admit("x"))
}

func TestWaitTimeZeroWhenOpen(t *testing.T) {
	l := NewLimiter(5)
	l.Admit("x")
	assert.Equal(t, time.Duration(0), l.WaitTime("x"))
	assert.Equal(t, time.Duration(0), l.WaitTime("never-seen"))
}

func TestPerEndpointLimits(t *testing.T) {
	l := NewLimiter(10)
	l.SetLimit("tight", 1)

	assert.True(t, l.Admit("tight"))
	assert.False(t, l.Admit("tight"))

	// Other endpoints keep the default limit.
	for i := 0; i < 10; i++ {
		require.True(t, l.Admit("roomy"), "call %d", i)
	}
	assert.False(t, l.Admit("roomy"))
}

func TestEndpointsDoNotContend(t *testing.T) {
	l := NewLimiter(1)

	assert.True(t, l.Admit("a"))
	assert.True(t, l.Admit("b"))
	assert.False(t, l.Admit("a"))
	assert.False(t, l.Admit("b"))
}

func TestRefusalDoesNotConsumeSlot(t *testing.T) {
	clock := newFakeClock()
	l := withClock(NewLimiter(1), clock)

	require.True(t, l.Admit("x"))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Admit("x"))
	}

	// One admitted entry expires exactly once; refusals never extended it.
	clock.Advance(Window + time.Millisecond)
	assert.True(t, l.Admit("x"))
}

func TestStatus(t *testing.T) {
	clock := newFakeClock()
	l := withClock(NewLimiter(2), clock)

	l.Admit("x")
	l.Admit("x")
	l.Admit("y")

	status := l.Status()
	require.Contains(t, status, "x")
	require.Contains(t, status, "y")

	assert.Equal(t, 2, status["x"].Used)
	assert.True(t, status["x"].Exhausted)
	assert.InDelta(t, 60.0, status["x"].WaitSecs, 0.01)

	assert.Equal(t, 1, status["y"].Used)
	assert.False(t, status["y"].Exhausted)
	assert.Zero(t, status["y"].WaitSecs)
}

func TestDefaultLimitFallback(t *testing.T) {
	l := NewLimiter(0)
	assert.Equal(t, DefaultLimit, l.Limit("anything"))
}
