// Package mock provides a test double for the memory.Store interface.
//
// The mock delegates to a real in-memory map so that Put/Search behave like a
// live store, while exported *Err fields allow tests to force failures on
// individual operations. Every call is recorded for assertion.
//
// Typical usage:
//
//	store := &mock.Store{SearchErr: errors.New("backend down")}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Search"); got != 1 {
//	    t.Errorf("expected 1 Search call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/memory/inmem"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for memory.Store. The zero value is
// ready to use and behaves like an empty in-memory store.
type Store struct {
	mu    sync.Mutex
	inner *inmem.Store
	calls []Call

	// PutErr is returned by Put when non-nil.
	PutErr error

	// GetErr is returned by Get when non-nil.
	GetErr error

	// SearchErr is returned by Search when non-nil.
	SearchErr error

	// DeleteErr is returned by Delete when non-nil.
	DeleteErr error
}

// Compile-time interface assertion.
var _ memory.Store = (*Store)(nil)

func (s *Store) record(method string, args ...any) *inmem.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner == nil {
		s.inner = inmem.New()
	}
	s.calls = append(s.calls, Call{Method: method, Args: args})
	return s.inner
}

// Put implements memory.Store.
func (s *Store) Put(ctx context.Context, item memory.Item) error {
	inner := s.record("Put", item)
	if s.PutErr != nil {
		return s.PutErr
	}
	return inner.Put(ctx, item)
}

// Get implements memory.Store.
func (s *Store) Get(ctx context.Context, namespace []string, key string) (*memory.Item, error) {
	inner := s.record("Get", namespace, key)
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	return inner.Get(ctx, namespace, key)
}

// Search implements memory.Store.
func (s *Store) Search(ctx context.Context, q memory.Query) ([]memory.Item, error) {
	inner := s.record("Search", q)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	return inner.Search(ctx, q)
}

// Delete implements memory.Store.
func (s *Store) Delete(ctx context.Context, namespace []string, key string) error {
	inner := s.record("Delete", namespace, key)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return inner.Delete(ctx, namespace, key)
}

// Close implements memory.Store.
func (s *Store) Close() error {
	s.record("Close")
	return nil
}

// Calls returns a snapshot of all recorded calls in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and stored items.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.inner = inmem.New()
}
