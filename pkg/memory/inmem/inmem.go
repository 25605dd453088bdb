// Package inmem provides an in-memory memory.Store backed by a mutex-guarded
// map. State is lost on restart; intended for tests and single-node setups
// that do not need persistence.
package inmem

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/memory"
)

// Compile-time interface assertion.
var _ memory.Store = (*Store)(nil)

// Store is an in-memory memory.Store. The zero value is not usable; construct
// via New. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	// items maps joined namespace → key → item.
	items map[string]map[string]memory.Item
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[string]map[string]memory.Item)}
}

// Put implements memory.Store.
func (s *Store) Put(_ context.Context, item memory.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.Value = maps.Clone(item.Value)

	ns := memory.JoinNamespace(item.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.items[ns]
	if !ok {
		bucket = make(map[string]memory.Item)
		s.items[ns] = bucket
	}
	if existing, ok := bucket[item.Key]; ok {
		item.CreatedAt = existing.CreatedAt
	}
	bucket[item.Key] = item
	return nil
}

// Get implements memory.Store.
func (s *Store) Get(_ context.Context, namespace []string, key string) (*memory.Item, error) {
	ns := memory.JoinNamespace(namespace)

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[ns][key]
	if !ok {
		return nil, nil
	}
	item.Value = maps.Clone(item.Value)
	return &item, nil
}

// Search implements memory.Store.
func (s *Store) Search(_ context.Context, q memory.Query) ([]memory.Item, error) {
	if len(q.NamespacePrefix) == 0 {
		return nil, memory.ErrInvalidItem
	}

	s.mu.RLock()
	results := []memory.Item{}
	for _, bucket := range s.items {
		for _, item := range bucket {
			if !memory.HasPrefix(item.Namespace, q.NamespacePrefix) {
				continue
			}
			if len(q.Equals) > 0 && !memory.MatchesEquals(item.Value, q.Equals) {
				continue
			}
			item.Value = maps.Clone(item.Value)
			results = append(results, item)
		}
	}
	s.mu.RUnlock()

	// Newest first; key breaks ties deterministically.
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].Key < results[j].Key
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// Delete implements memory.Store.
func (s *Store) Delete(_ context.Context, namespace []string, key string) error {
	ns := memory.JoinNamespace(namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if bucket, ok := s.items[ns]; ok {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(s.items, ns)
		}
	}
	return nil
}

// Close implements memory.Store. It is a no-op for the in-memory backend.
func (s *Store) Close() error {
	return nil
}
