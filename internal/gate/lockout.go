package gate

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxTrackedIdentities bounds the failure table so an attacker rotating
// source identities cannot grow memory without limit.
const maxTrackedIdentities = 4096

// Lockout tracks consecutive authentication failures per identity and locks
// the identity out once the threshold is crossed within the window.
// Identities are held in an LRU; evicting one forgets its failure count.
type Lockout struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, *lockEntry]
	threshold int
	window    time.Duration
	now       func() time.Time
}

type lockEntry struct {
	count       int
	firstFail   time.Time
	lockedUntil time.Time
}

// NewLockout creates a tracker locking identities out for window after
// threshold consecutive failures within window.
func NewLockout(threshold int, window time.Duration) *Lockout {
	entries, _ := lru.New[string, *lockEntry](maxTrackedIdentities)
	return &Lockout{
		entries:   entries,
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// Locked reports whether identity is currently locked out and for how much
// longer.
func (l *Lockout) Locked(identity string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries.Get(identity)
	if !ok {
		return false, 0
	}
	now := l.now()
	if e.lockedUntil.After(now) {
		return true, e.lockedUntil.Sub(now)
	}
	// Expired state is dead weight; drop it rather than wait for eviction.
	if now.Sub(e.firstFail) >= l.window {
		l.entries.Remove(identity)
	}
	return false, 0
}

// Fail records one authentication failure and returns true when the identity
// just became (or stays) locked. A failure during an active lock extends it.
func (l *Lockout) Fail(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries.Get(identity)
	if !ok || (now.Sub(e.firstFail) >= l.window && e.lockedUntil.Before(now)) {
		e = &lockEntry{firstFail: now}
		l.entries.Add(identity, e)
	}

	e.count++
	if e.count >= l.threshold || e.lockedUntil.After(now) {
		e.lockedUntil = now.Add(l.window)
		return true
	}
	return false
}

// Reset clears failure state after a successful authentication.
func (l *Lockout) Reset(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Remove(identity)
}
