// Package limiter holds the gateway's instance-local abuse defenses:
// the sliding-window message rate limiter, the auth brute-force guard
// and the per-IP connection cap. All state is local to one gateway
// instance; none of it requires cross-instance coordination.
package limiter

import (
	"sync"
	"time"
)

// Verdict is the rate limiter's decision for one inbound message.
type Verdict int

const (
	// OK: process the message.
	OK Verdict = iota
	// Warn: drop the message and send the client a warning.
	Warn
	// Throttled: drop the message silently (already warned this window).
	Throttled
	// Disconnect: the warning budget is spent; close the connection.
	Disconnect
)

type rateState struct {
	count       int
	windowStart time.Time
	warned      bool // warning already sent this window
	warnings    int  // total warnings across windows
	lastSeen    time.Time
}

// RateLimiter enforces a sliding-window message cap per key. Keys are
// authenticated player ids when available, else client ids, so a
// player's warning count survives reconnecting under a new client id.
type RateLimiter struct {
	mu          sync.Mutex
	states      map[string]*rateState
	window      time.Duration
	maxMessages int
	maxWarnings int
	now         func() time.Time
	done        chan struct{}
	stopOnce    sync.Once
}

func NewRateLimiter(window time.Duration, maxMessages, maxWarnings int) *RateLimiter {
	return &RateLimiter{
		states:      make(map[string]*rateState),
		window:      window,
		maxMessages: maxMessages,
		maxWarnings: maxWarnings,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// Allow registers one inbound message for the key and returns the
// verdict. The first breach in a window warns; later breaches in the
// same window are silently throttled; once the warning budget is spent
// the next breach disconnects.
func (l *RateLimiter) Allow(key string) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, ok := l.states[key]
	if !ok {
		st = &rateState{windowStart: now}
		l.states[key] = st
	}

	if now.Sub(st.windowStart) >= l.window {
		st.windowStart = now
		st.count = 0
		st.warned = false
	}

	st.count++
	st.lastSeen = now

	if st.count <= l.maxMessages {
		return OK
	}
	if st.warned {
		return Throttled
	}
	st.warned = true
	st.warnings++
	if st.warnings > l.maxWarnings {
		return Disconnect
	}
	return Warn
}

// Forget drops all state for the key. Called when a connection closes
// for client-id keys; player-id keys age out via the sweep instead so a
// reconnect does not reset the penalty.
func (l *RateLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, key)
}

// StartSweep evicts entries idle longer than maxIdle on the given
// interval until Stop is called.
func (l *RateLimiter) StartSweep(interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				l.sweep(maxIdle)
			}
		}
	}()
}

func (l *RateLimiter) sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	for key, st := range l.states {
		if st.lastSeen.Before(cutoff) {
			delete(l.states, key)
		}
	}
}

func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
