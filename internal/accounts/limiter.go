// internal/accounts/limiter.go
package accounts

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 15 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter hands out one token bucket per key, so one noisy client
// cannot lock out everybody else.
type keyedLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	sweeps  int
}

func newKeyedLimiter(every time.Duration, burst int) *keyedLimiter {
	return &keyedLimiter{
		every:   rate.Every(every),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow spends a token for key and reports whether one was available.
func (l *keyedLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry(key, now).limiter.AllowN(now, 1)
}

// Blocked reports whether key has run out of tokens, without spending one.
func (l *keyedLimiter) Blocked(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return false
	}
	return e.limiter.TokensAt(now) < 1
}

// entry must be called with mu held.
func (l *keyedLimiter) entry(key string, now time.Time) *limiterEntry {
	l.sweeps++
	if l.sweeps%1024 == 0 {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, k)
			}
		}
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e
}
