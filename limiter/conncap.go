package limiter

import "sync"

// ConnCap limits concurrent connections per originating IP. Acquire at
// accept time, Release exactly once on any disconnect path.
type ConnCap struct {
	mu     sync.Mutex
	counts map[string]int
	max    int
}

func NewConnCap(max int) *ConnCap {
	return &ConnCap{
		counts: make(map[string]int),
		max:    max,
	}
}

// Acquire reserves a slot for the IP; false when the cap is reached.
func (c *ConnCap) Acquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[ip] >= c.max {
		return false
	}
	c.counts[ip]++
	return true
}

// Release frees a slot. Releasing below zero is clamped so a doubled
// cleanup path cannot corrupt the count.
func (c *ConnCap) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.counts[ip]; n <= 1 {
		delete(c.counts, ip)
	} else {
		c.counts[ip] = n - 1
	}
}

// Count reports the current reservation count for the IP.
func (c *ConnCap) Count(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ip]
}
