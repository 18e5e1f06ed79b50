// Package ratelimit tracks per-identity request budgets over a fixed or
// sliding window.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Strategy selects how the window advances.
type Strategy string

const (
	// Fixed resets the whole budget at each window boundary.
	Fixed Strategy = "fixed"
	// Sliding expires each request individually, absorbing bursts smoothly.
	Sliding Strategy = "sliding"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces a request budget per identity. Identities are held in an
// LRU so an unbounded set of callers cannot grow memory without limit.
type Limiter struct {
	strategy Strategy
	limit    int
	window   time.Duration

	mu      sync.Mutex
	entries *lru.Cache[string, *entry]

	now func() time.Time
}

type entry struct {
	// fixed window
	windowStart time.Time
	count       int
	// sliding window
	stamps []time.Time
}

const defaultMaxIdentities = 4096

// New creates a Limiter allowing limit requests per window for each identity.
func New(strategy Strategy, limit int, window time.Duration) *Limiter {
	cache, _ := lru.New[string, *entry](defaultMaxIdentities)
	return &Limiter{
		strategy: strategy,
		limit:    limit,
		window:   window,
		entries:  cache,
		now:      time.Now,
	}
}

// Allow records one request for identity and reports whether it fits the
// budget. When the budget is exhausted the request is not recorded and
// RetryAfter hints when a slot frees up.
func (l *Limiter) Allow(identity string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries.Get(identity)
	if !ok {
		e = &entry{}
		l.entries.Add(identity, e)
	}

	if l.strategy == Fixed {
		return l.allowFixed(e, now)
	}
	return l.allowSliding(e, now)
}

func (l *Limiter) allowFixed(e *entry, now time.Time) Decision {
	if e.windowStart.IsZero() || now.Sub(e.windowStart) >= l.window {
		e.windowStart = now
		e.count = 0
	}
	if e.count >= l.limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: e.windowStart.Add(l.window).Sub(now),
		}
	}
	e.count++
	return Decision{Allowed: true, Remaining: l.limit - e.count}
}

func (l *Limiter) allowSliding(e *entry, now time.Time) Decision {
	cutoff := now.Add(-l.window)
	kept := e.stamps[:0]
	for _, ts := range e.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.stamps = kept

	if len(e.stamps) >= l.limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: e.stamps[0].Add(l.window).Sub(now),
		}
	}
	e.stamps = append(e.stamps, now)
	return Decision{Allowed: true, Remaining: l.limit - len(e.stamps)}
}
