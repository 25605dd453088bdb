package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/voxgate/voxgate/pkg/fault"
)

// Compile-time interface assertion.
var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore is a Store backed by an embedded SQLite file database.
// Uniqueness of the tuple key rides on the primary key: creation is
// INSERT ... ON CONFLICT DO NOTHING followed by a re-read, so concurrent
// creators converge on one row.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("session sqlite: path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session sqlite: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetOrCreate implements Store.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, key Key) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	k := key.String()

	// Two rounds cover the race where a tombstoned row is cleared between
	// our insert attempt and re-read.
	for range 2 {
		fresh := newSession(key)
		body, err := json.Marshal(fresh)
		if err != nil {
			return nil, fmt.Errorf("session sqlite: marshal: %w", err)
		}

		const insert = `
			INSERT INTO sessions (key, id, body, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (key) DO NOTHING`
		if _, err := s.db.ExecContext(ctx, insert, k, fresh.ID, string(body), fresh.UpdatedAt.UnixNano()); err != nil {
			return nil, fault.Errorf(fault.KindBackendUnavailable, "session.sqlite.GetOrCreate", "insert: %w", err)
		}

		got, err := s.load(ctx, k)
		if err != nil {
			return nil, err
		}
		if got == nil {
			continue
		}
		if got.IsActive {
			return got, nil
		}
		// Tombstoned row: clear it (only if unchanged) and try again.
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ? AND id = ?`, k, got.ID); err != nil {
			return nil, fault.Errorf(fault.KindBackendUnavailable, "session.sqlite.GetOrCreate", "clear tombstone: %w", err)
		}
	}
	return nil, fault.Errorf(fault.KindBackendUnavailable, "session.sqlite.GetOrCreate", "could not settle session for %s", k)
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	key := Key{Tenant: sess.TenantID, Channel: sess.Channel, UserExternalID: sess.UserExternalID}
	if err := key.Validate(); err != nil {
		return err
	}

	touch(sess)
	body, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session sqlite: marshal: %w", err)
	}

	const upsert = `
		INSERT INTO sessions (key, id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key)
		DO UPDATE SET id = excluded.id, body = excluded.body, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, upsert, key.String(), sess.ID, string(body), sess.UpdatedAt.UnixNano()); err != nil {
		return fault.Errorf(fault.KindBackendUnavailable, "session.sqlite.Save", "upsert: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key.String()); err != nil {
		return fault.Errorf(fault.KindBackendUnavailable, "session.sqlite.Delete", "%w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// load reads one row by tuple key; (nil, nil) when absent.
func (s *SQLiteStore) load(ctx context.Context, k string) (*Session, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM sessions WHERE key = ?`, k).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Errorf(fault.KindBackendUnavailable, "session.sqlite.load", "%w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(body), &sess); err != nil {
		return nil, fmt.Errorf("session sqlite: unmarshal: %w", err)
	}
	return &sess, nil
}
