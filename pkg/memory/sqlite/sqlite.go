// Package sqlite provides a memory.Store backed by an embedded SQLite
// database (modernc.org/sqlite, no cgo). Items are keyed on the serialized
// namespace plus key; prefix search runs against an indexed namespace column.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxgate/voxgate/pkg/memory"
)

// Compile-time interface assertion.
var _ memory.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS memory_items (
	namespace  TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_memory_items_namespace ON memory_items (namespace);
`

// Store is a SQLite-backed memory.Store. Safe for concurrent use; writes are
// serialized on a single connection because SQLite allows one writer at a
// time.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database file at path and ensures the schema
// exists. Use ":memory:" for an ephemeral store.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("memory sqlite: path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: open: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Put implements memory.Store.
func (s *Store) Put(ctx context.Context, item memory.Item) error {
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

	value, err := json.Marshal(item.Value)
	if err != nil {
		return fmt.Errorf("memory sqlite: marshal value: %w", err)
	}

	const q = `
		INSERT INTO memory_items (namespace, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		memory.JoinNamespace(item.Namespace),
		item.Key,
		string(value),
		item.CreatedAt.UnixNano(),
		item.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("memory sqlite: put: %w", err)
	}
	return nil
}

// Get implements memory.Store.
func (s *Store) Get(ctx context.Context, namespace []string, key string) (*memory.Item, error) {
	const q = `
		SELECT value, created_at, updated_at
		FROM memory_items
		WHERE namespace = ? AND key = ?`

	var (
		value              string
		createdNS, updated int64
	)
	err := s.db.QueryRowContext(ctx, q, memory.JoinNamespace(namespace), key).
		Scan(&value, &createdNS, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: get: %w", err)
	}

	item := memory.Item{
		Namespace: append([]string(nil), namespace...),
		Key:       key,
		CreatedAt: time.Unix(0, createdNS),
		UpdatedAt: time.Unix(0, updated),
	}
	if err := json.Unmarshal([]byte(value), &item.Value); err != nil {
		return nil, fmt.Errorf("memory sqlite: unmarshal value: %w", err)
	}
	return &item, nil
}

// Search implements memory.Store. The namespace prefix is matched in SQL
// (exact namespace or any '/'-separated descendant); equality filters are
// applied while scanning because values are opaque JSON.
func (s *Store) Search(ctx context.Context, q memory.Query) ([]memory.Item, error) {
	if len(q.NamespacePrefix) == 0 {
		return nil, memory.ErrInvalidItem
	}

	prefix := memory.JoinNamespace(q.NamespacePrefix)
	const query = `
		SELECT namespace, key, value, created_at, updated_at
		FROM memory_items
		WHERE namespace = ? OR namespace LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, key ASC`

	rows, err := s.db.QueryContext(ctx, query, prefix, escapeLike(prefix)+"/%")
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: search: %w", err)
	}
	defer rows.Close()

	results := []memory.Item{}
	for rows.Next() {
		var (
			ns, key, value     string
			createdNS, updated int64
		)
		if err := rows.Scan(&ns, &key, &value, &createdNS, &updated); err != nil {
			return nil, fmt.Errorf("memory sqlite: scan: %w", err)
		}
		item := memory.Item{
			Namespace: strings.Split(ns, "/"),
			Key:       key,
			CreatedAt: time.Unix(0, createdNS),
			UpdatedAt: time.Unix(0, updated),
		}
		if err := json.Unmarshal([]byte(value), &item.Value); err != nil {
			return nil, fmt.Errorf("memory sqlite: unmarshal value: %w", err)
		}
		if len(q.Equals) > 0 && !memory.MatchesEquals(item.Value, q.Equals) {
			continue
		}
		results = append(results, item)
		if q.Limit > 0 && len(results) == q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: rows: %w", err)
	}
	return results, nil
}

// Delete implements memory.Store.
func (s *Store) Delete(ctx context.Context, namespace []string, key string) error {
	const q = `DELETE FROM memory_items WHERE namespace = ? AND key = ?`
	if _, err := s.db.ExecContext(ctx, q, memory.JoinNamespace(namespace), key); err != nil {
		return fmt.Errorf("memory sqlite: delete: %w", err)
	}
	return nil
}

// Close implements memory.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// escapeLike escapes LIKE wildcards in s so namespace elements containing
// '%' or '_' cannot widen a prefix scan.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
