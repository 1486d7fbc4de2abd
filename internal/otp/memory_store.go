package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps active sessions in a mutex-guarded map. Every
// read-modify-write sequence holds the lock, so existence checks and removal
// are one critical section per code.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Put registers a session unless the code is already active. A leftover
// expired session under the same code is replaced rather than colliding.
func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.Code]; ok && !cur.ExpiredAt(time.Now()) {
		return ErrCodeTaken
	}
	m.sessions[s.Code] = s
	return nil
}

// Get returns the session for a code.
func (m *MemoryStore) Get(_ context.Context, code string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[code]
	return s, ok, nil
}

// Remove deletes a session.
func (m *MemoryStore) Remove(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, code)
	return nil
}

// Sweep drops every session expired at the given instant and returns how
// many were removed. Expiry is already enforced at read time; the sweep just
// keeps the map from accumulating dead codes.
func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for code, s := range m.sessions {
		if s.ExpiredAt(now) {
			delete(m.sessions, code)
			n++
		}
	}
	return n
}
