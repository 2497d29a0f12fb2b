package limiter

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAuthBlocked is the hard rejection once an IP reaches the failure
// ceiling. The connection should be closed with a policy violation.
var ErrAuthBlocked = errors.New("limiter: too many authentication failures")

// BackoffError rejects an attempt during an exponential backoff window
// without consuming a new failure.
type BackoffError struct {
	RetryAfter time.Duration
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("limiter: authentication backoff, retry after %s", e.RetryAfter.Round(time.Second))
}

type failState struct {
	count int
	last  time.Time
}

// AuthGuard tracks failed authentication attempts per remote IP. Below
// lowThreshold failures there is no penalty; between low and high an
// exponential backoff window (doubling from base, capped) rejects
// attempts outright; at highThreshold the IP is hard-rejected. A
// successful authentication clears the IP entirely.
type AuthGuard struct {
	mu            sync.Mutex
	states        map[string]*failState
	lowThreshold  int
	highThreshold int
	base          time.Duration
	cap           time.Duration
	window        time.Duration
	now           func() time.Time
	done          chan struct{}
	stopOnce      sync.Once
}

func NewAuthGuard(lowThreshold, highThreshold int, base, cap, window time.Duration) *AuthGuard {
	return &AuthGuard{
		states:        make(map[string]*failState),
		lowThreshold:  lowThreshold,
		highThreshold: highThreshold,
		base:          base,
		cap:           cap,
		window:        window,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Check is called before verifying credentials. A non-nil result means
// the attempt must be rejected without even looking at the token:
// ErrAuthBlocked at the ceiling, *BackoffError inside a backoff window.
func (g *AuthGuard) Check(ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[ip]
	if !ok {
		return nil
	}

	now := g.now()
	if now.Sub(st.last) >= g.window {
		delete(g.states, ip)
		return nil
	}

	if st.count >= g.highThreshold {
		return ErrAuthBlocked
	}

	if st.count >= g.lowThreshold {
		wait := g.backoff(st.count)
		if elapsed := now.Sub(st.last); elapsed < wait {
			return &BackoffError{RetryAfter: wait - elapsed}
		}
	}
	return nil
}

// backoff doubles from base for every failure past the low threshold.
func (g *AuthGuard) backoff(count int) time.Duration {
	wait := g.base
	for i := g.lowThreshold; i < count; i++ {
		wait *= 2
		if wait >= g.cap {
			return g.cap
		}
	}
	return wait
}

// Fail records a failed or revoked authentication attempt.
func (g *AuthGuard) Fail(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st, ok := g.states[ip]
	if !ok || now.Sub(st.last) >= g.window {
		g.states[ip] = &failState{count: 1, last: now}
		return
	}
	st.count++
	st.last = now
}

// Success clears the IP's failure state entirely.
func (g *AuthGuard) Success(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, ip)
}

// Failures reports the current failure count for the IP.
func (g *AuthGuard) Failures(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[ip]; ok {
		return st.count
	}
	return 0
}

// StartSweep periodically drops entries whose window has lapsed.
func (g *AuthGuard) StartSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
}

func (g *AuthGuard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-g.window)
	for ip, st := range g.states {
		if st.last.Before(cutoff) {
			delete(g.states, ip)
		}
	}
}

func (g *AuthGuard) Stop() {
	g.stopOnce.Do(func() { close(g.done) })
}
