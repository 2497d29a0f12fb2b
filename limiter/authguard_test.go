package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthGuard() (*AuthGuard, *time.Time) {
	g := NewAuthGuard(5, 10, time.Second, 5*time.Minute, 15*time.Minute)
	now := time.Now()
	g.now = func() time.Time { return now }
	return g, &now
}

func TestAuthGuard_BelowThresholdNoPenalty(t *testing.T) {
	g, _ := newTestAuthGuard()

	for i := 0; i < 4; i++ {
		require.NoError(t, g.Check("10.0.0.1"))
		g.Fail("10.0.0.1")
	}
	assert.NoError(t, g.Check("10.0.0.1"))
}

func TestAuthGuard_BackoffAfterLowThreshold(t *testing.T) {
	g, now := newTestAuthGuard()

	// 5 consecutive failures: the 6th attempt is rejected outright,
	// without consuming a new failure.
	for i := 0; i < 5; i++ {
		g.Fail("10.0.0.1")
	}
	err := g.Check("10.0.0.1")
	var backoffErr *BackoffError
	require.ErrorAs(t, err, &backoffErr)
	assert.Equal(t, 5, g.Failures("10.0.0.1"))

	// Once the backoff window lapses, attempts are allowed again.
	*now = now.Add(2 * time.Second)
	assert.NoError(t, g.Check("10.0.0.1"))
}

func TestAuthGuard_BackoffDoubles(t *testing.T) {
	g, now := newTestAuthGuard()

	for i := 0; i < 7; i++ {
		g.Fail("10.0.0.1")
	}

	// 7 failures: 2 past the low threshold, so the window is 4s.
	*now = now.Add(3 * time.Second)
	var backoffErr *BackoffError
	require.ErrorAs(t, g.Check("10.0.0.1"), &backoffErr)

	*now = now.Add(2 * time.Second)
	assert.NoError(t, g.Check("10.0.0.1"))
}

func TestAuthGuard_HardRejectAtCeiling(t *testing.T) {
	g, now := newTestAuthGuard()

	for i := 0; i < 10; i++ {
		g.Fail("10.0.0.1")
		*now = now.Add(10 * time.Minute) // step past any backoff window
	}

	assert.ErrorIs(t, g.Check("10.0.0.1"), ErrAuthBlocked)
}

func TestAuthGuard_SuccessClearsState(t *testing.T) {
	g, _ := newTestAuthGuard()

	for i := 0; i < 9; i++ {
		g.Fail("10.0.0.1")
	}
	g.Success("10.0.0.1")

	assert.NoError(t, g.Check("10.0.0.1"))
	assert.Equal(t, 0, g.Failures("10.0.0.1"))
}

func TestAuthGuard_WindowExpiryResets(t *testing.T) {
	g, now := newTestAuthGuard()

	for i := 0; i < 6; i++ {
		g.Fail("10.0.0.1")
	}
	*now = now.Add(16 * time.Minute)

	assert.NoError(t, g.Check("10.0.0.1"))

	// A new failure starts a fresh count.
	g.Fail("10.0.0.1")
	assert.Equal(t, 1, g.Failures("10.0.0.1"))
}

func TestAuthGuard_SweepDropsStaleEntries(t *testing.T) {
	g, now := newTestAuthGuard()

	g.Fail("10.0.0.1")
	g.Fail("10.0.0.2")
	*now = now.Add(20 * time.Minute)
	g.sweep()

	g.mu.Lock()
	remaining := len(g.states)
	g.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestConnCap(t *testing.T) {
	c := NewConnCap(2)

	assert.True(t, c.Acquire("10.0.0.1"))
	assert.True(t, c.Acquire("10.0.0.1"))
	assert.False(t, c.Acquire("10.0.0.1"))

	// Other IPs are unaffected.
	assert.True(t, c.Acquire("10.0.0.2"))

	c.Release("10.0.0.1")
	assert.True(t, c.Acquire("10.0.0.1"))

	// Over-release never goes negative.
	c.Release("10.0.0.3")
	assert.Zero(t, c.Count("10.0.0.3"))
}
