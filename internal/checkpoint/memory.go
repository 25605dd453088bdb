package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node
// deployments. State is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*Checkpoint)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[threadID]
	if !ok {
		return nil, nil
	}
	return clone(cp), nil
}

// Append implements Store. The store mutex serializes appends across all
// threads; per-thread ordering follows from that.
func (m *MemoryStore) Append(_ context.Context, threadID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[threadID]
	if !ok {
		cp = &Checkpoint{ThreadID: threadID}
		m.checkpoints[threadID] = cp
	}
	cp.Messages = append(cp.Messages, msg)
	cp.TokenCount += estimateMessageTokens(msg)
	cp.UpdatedAt = time.Now()
	return nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := clone(cp)
	stored.UpdatedAt = time.Now()
	m.checkpoints[cp.ThreadID] = stored
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, threadID)
	return nil
}

// Close implements Store. It is a no-op for the in-memory backend.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
