package risk

import (
	"sync"
	"time"
)

// rateLimiter is a sliding-window order counter per market, grounded on
// the token-bucket rate limiter's structure but implementing spec.md
// §4.6 rule 5 exactly: reject if >= N orders were recorded for this
// market in the trailing window.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	history map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
	}
}

// Allow reports whether a new order for marketID may be recorded at
// now, given the orders already recorded in the trailing window.
func (rl *rateLimiter) Allow(marketID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	kept := rl.evictLocked(marketID, now)
	return len(kept) < rl.limit
}

// Record stores an accepted order's timestamp.
func (rl *rateLimiter) Record(marketID string, now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	kept := rl.evictLocked(marketID, now)
	rl.history[marketID] = append(kept, now)
}

func (rl *rateLimiter) evictLocked(marketID string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	existing := rl.history[marketID]
	kept := existing[:0:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rl.history[marketID] = kept
	return kept
}
