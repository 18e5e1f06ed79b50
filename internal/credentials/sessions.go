package credentials

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps refresh sessions in process memory. It is the
// default when no database is configured; sessions do not survive restarts.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
	now      func() time.Time
}

type memorySession struct {
	subject   string
	expiresAt time.Time
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

// Save registers a session and opportunistically drops expired ones.
func (m *MemorySessionStore) Save(_ context.Context, id, subject string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.sessions {
		if v.expiresAt.Before(now) {
			delete(m.sessions, k)
		}
	}
	m.sessions[id] = memorySession{subject: subject, expiresAt: expiresAt}
	return nil
}

// Active reports whether the session exists and has not expired.
func (m *MemorySessionStore) Active(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	return s.expiresAt.After(m.now()), nil
}

// Revoke removes the session. Unknown ids are ignored.
func (m *MemorySessionStore) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
