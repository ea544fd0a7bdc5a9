package ingress

import (
	"net/netip"
	"time"
)

const defaultRateLimitWindow = 10 * time.Second

// fragmentRateLimiter bounds the fragments accepted per source address within
// a fixed window. Counts reset when the window rotates.
type fragmentRateLimiter struct {
	current      map[netip.Addr]int
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int

	rejected uint64
}

// newFragmentRateLimiter returns nil if limiting is disabled (maxPerSource <= 0).
func newFragmentRateLimiter(maxPerSource int, window time.Duration) *fragmentRateLimiter {
	if maxPerSource <= 0 {
		return nil
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &fragmentRateLimiter{
		current:      make(map[netip.Addr]int),
		windowSize:   window,
		maxPerWindow: maxPerSource,
	}
}

// allow records one fragment from src and reports whether it is within budget.
func (l *fragmentRateLimiter) allow(src netip.Addr, now time.Time) bool {
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.windowSize {
		clear(l.current)
		l.windowStart = now
	}

	l.current[src]++
	if l.current[src] > l.maxPerWindow {
		l.rejected++
		return false
	}
	return true
}

// activeSources returns the number of distinct sources in the current window.
func (l *fragmentRateLimiter) activeSources() int { return len(l.current) }
