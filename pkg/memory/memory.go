// Package memory defines the namespaced key-value store behind the memory
// tool surface.
//
// Items live under hierarchical namespaces (tuples of path elements, e.g.
// ("memories", userID)). The store supports exact lookup by (namespace, key)
// and prefix search across a namespace subtree; tool handlers rely on prefix
// search never crossing namespace boundaries to keep per-user memories
// isolated.
//
// Backends: pkg/memory/inmem (map), pkg/memory/sqlite (embedded file DB).
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"
)

// ErrInvalidItem is returned by Put for items that violate the namespace or
// key constraints documented on [Item].
var ErrInvalidItem = errors.New("memory: invalid item")

// Item is one stored memory record.
type Item struct {
	// Namespace is the hierarchical prefix this item lives under. Elements
	// must be non-empty and must not contain '/' (the serialization
	// separator).
	Namespace []string

	// Key is the unique identifier within the namespace.
	Key string

	// Value is the opaque record body. Top-level fields are addressable by
	// equality filters in [Query].
	Value map[string]any

	// CreatedAt is when the item was first stored. Replacing an existing
	// item preserves it.
	CreatedAt time.Time

	// UpdatedAt advances on every write.
	UpdatedAt time.Time
}

// Validate reports whether the item can be stored.
func (it Item) Validate() error {
	if len(it.Namespace) == 0 {
		return ErrInvalidItem
	}
	for _, el := range it.Namespace {
		if el == "" || strings.Contains(el, "/") {
			return ErrInvalidItem
		}
	}
	if it.Key == "" {
		return ErrInvalidItem
	}
	return nil
}

// Query describes a prefix search. All non-zero fields are applied as AND
// conditions.
type Query struct {
	// NamespacePrefix selects all items whose namespace starts with this
	// tuple. Must be non-empty; searches never span the whole store.
	NamespacePrefix []string

	// Equals filters by equality over top-level Value fields. An item
	// matches if every key/value pair is present in its Value map.
	Equals map[string]any

	// Limit caps the number of results. 0 means no cap.
	Limit int
}

// Store is the abstraction over any memory backend.
//
// Search results are ordered newest first (CreatedAt descending, Key
// ascending on ties) so that recently saved memories surface before older
// ones at any limit.
type Store interface {
	// Put upserts an item keyed on (Namespace, Key). Replacing an existing
	// item preserves its CreatedAt; UpdatedAt always advances. Zero
	// timestamps are filled in by the store.
	Put(ctx context.Context, item Item) error

	// Get retrieves one item by exact (namespace, key).
	// Returns (nil, nil) when the item does not exist.
	Get(ctx context.Context, namespace []string, key string) (*Item, error)

	// Search returns items under q.NamespacePrefix matching q.Equals, newest
	// first, up to q.Limit.
	// Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, q Query) ([]Item, error)

	// Delete removes one item. Deleting a non-existent item is not an error.
	Delete(ctx context.Context, namespace []string, key string) error

	// Close releases backend resources.
	Close() error
}

// JoinNamespace serializes a namespace tuple to its canonical '/'-separated
// form, shared by backends so that keys and prefix scans agree.
func JoinNamespace(ns []string) string {
	return strings.Join(ns, "/")
}

// HasPrefix reports whether ns starts with the given prefix tuple,
// element-wise.
func HasPrefix(ns, prefix []string) bool {
	if len(prefix) > len(ns) {
		return false
	}
	for i, el := range prefix {
		if ns[i] != el {
			return false
		}
	}
	return true
}

// MatchesEquals reports whether every key/value pair in filter is present in
// value. Numeric JSON round-trips decode as float64, so callers should filter
// with the decoded representation.
func MatchesEquals(value map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := value[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
