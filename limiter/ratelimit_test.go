package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestRateLimiter() (*RateLimiter, *time.Time) {
	l := NewRateLimiter(10*time.Second, 30, 3)
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimiter_WarnsOnceOnFirstBreach(t *testing.T) {
	l, _ := newTestRateLimiter()

	for i := 0; i < 30; i++ {
		assert.Equal(t, OK, l.Allow("p:alice"), "message %d should pass", i+1)
	}

	// The 31st message inside the window breaches the cap: one warning.
	assert.Equal(t, Warn, l.Allow("p:alice"))

	// Further breaches in the same window are dropped silently.
	assert.Equal(t, Throttled, l.Allow("p:alice"))
	assert.Equal(t, Throttled, l.Allow("p:alice"))
}

func TestRateLimiter_WindowReset(t *testing.T) {
	l, now := newTestRateLimiter()

	for i := 0; i < 31; i++ {
		l.Allow("p:alice")
	}

	*now = now.Add(11 * time.Second)

	// Fresh window: back under the cap.
	assert.Equal(t, OK, l.Allow("p:alice"))
}

func TestRateLimiter_DisconnectAfterWarningBudget(t *testing.T) {
	l, now := newTestRateLimiter()

	burst := func() Verdict {
		var last Verdict
		for i := 0; i < 31; i++ {
			last = l.Allow("p:alice")
		}
		return last
	}

	// Three bursts in separate windows: three warnings.
	assert.Equal(t, Warn, burst())
	*now = now.Add(11 * time.Second)
	assert.Equal(t, Warn, burst())
	*now = now.Add(11 * time.Second)
	assert.Equal(t, Warn, burst())

	// The next violation exceeds the warning budget.
	*now = now.Add(11 * time.Second)
	assert.Equal(t, Disconnect, burst())
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestRateLimiter()

	for i := 0; i < 31; i++ {
		l.Allow("p:alice")
	}
	assert.Equal(t, OK, l.Allow("p:bob"))
}

func TestRateLimiter_Forget(t *testing.T) {
	l, _ := newTestRateLimiter()

	for i := 0; i < 31; i++ {
		l.Allow("c:client-1")
	}
	l.Forget("c:client-1")

	assert.Equal(t, OK, l.Allow("c:client-1"))
}

func TestRateLimiter_SweepEvictsIdleEntries(t *testing.T) {
	l, now := newTestRateLimiter()

	for i := 0; i < 31; i++ {
		l.Allow("p:alice")
	}

	*now = now.Add(10 * time.Minute)
	l.sweep(5 * time.Minute)

	l.mu.Lock()
	_, exists := l.states["p:alice"]
	l.mu.Unlock()
	assert.False(t, exists)
}
