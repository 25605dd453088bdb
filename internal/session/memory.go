package session

import (
	"context"
	"sync"
)

// Compile-time interface assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store backed by a mutex-guarded map. State is
// lost on restart; intended for tests and single-node development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session // tuple key → session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// GetOrCreate implements Store. The check-then-create runs under one lock,
// which is the compare-and-set for this backend.
func (m *MemoryStore) GetOrCreate(_ context.Context, key Key) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	k := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[k]; ok && existing.IsActive {
		return clone(existing), nil
	}
	s := newSession(key)
	m.sessions[k] = s
	return clone(s), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	key := Key{Tenant: s.TenantID, Channel: s.Channel, UserExternalID: s.UserExternalID}
	if err := key.Validate(); err != nil {
		return err
	}

	touch(s)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key.String()] = clone(s)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key.String())
	return nil
}

// Close implements Store. It is a no-op for the in-memory backend.
func (m *MemoryStore) Close() error {
	return nil
}
