package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxgate/voxgate/pkg/fault"
)

const ddlCheckpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
    thread_id     TEXT         PRIMARY KEY,
    messages      JSONB        NOT NULL DEFAULT '[]',
    summary       TEXT         NOT NULL DEFAULT '',
    summary_up_to INT          NOT NULL DEFAULT 0,
    token_count   INT          NOT NULL DEFAULT 0,
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// PGStore is a PostgreSQL-backed Store. All operations go through a single
// [pgxpool.Pool]; Append serializes per thread with a row-level lock.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to the database at dsn, verifies the connection, and
// ensures the checkpoints table exists. The migration is idempotent and safe
// to run on every start.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.New", "ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlCheckpoints); err != nil {
		pool.Close()
		return nil, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.New", "migrate: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Load implements Store.
func (s *PGStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	const query = `
		SELECT messages, summary, summary_up_to, token_count, updated_at
		FROM checkpoints
		WHERE thread_id = $1`

	cp := Checkpoint{ThreadID: threadID}
	var raw []byte
	err := s.pool.QueryRow(ctx, query, threadID).
		Scan(&raw, &cp.Summary, &cp.SummaryUpTo, &cp.TokenCount, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Load", "%w", err)
	}
	if err := json.Unmarshal(raw, &cp.Messages); err != nil {
		return nil, fmt.Errorf("checkpoint postgres: unmarshal messages: %w", err)
	}
	return &cp, nil
}

// Append implements Store. The row is locked FOR UPDATE for the duration of
// the read-modify-write, so appends on one thread never interleave.
func (s *PGStore) Append(ctx context.Context, threadID string, msg Message) error {
	// Two rounds cover the race where the thread's first row is created
	// between our missing-row read and insert attempt.
	for range 2 {
		done, err := s.tryAppend(ctx, threadID, msg)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Append", "could not settle append for %s", threadID)
}

func (s *PGStore) tryAppend(ctx context.Context, threadID string, msg Message) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Append", "begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const lock = `
		SELECT messages, token_count
		FROM checkpoints
		WHERE thread_id = $1
		FOR UPDATE`

	var raw []byte
	var tokens int
	err = tx.QueryRow(ctx, lock, threadID).Scan(&raw, &tokens)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		body, err := json.Marshal([]Message{msg})
		if err != nil {
			return false, fmt.Errorf("checkpoint postgres: marshal: %w", err)
		}
		const insert = `
			INSERT INTO checkpoints (thread_id, messages, token_count, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (thread_id) DO NOTHING`
		tag, err := tx.Exec(ctx, insert, threadID, body, estimateMessageTokens(msg))
		if err != nil {
			return false, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Append", "insert: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Lost the creation race; retry against the now-existing row.
			return false, nil
		}
		if err := tx.Commit(ctx); err != nil {
			return false, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Append", "commit: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Append", "lock: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return false, fmt.Errorf("checkpoint postgres: unmarshal messages: %w", err)
	}
	messages = append(messages, msg)
	body, err := json.Marshal(messages)
	if err != nil {
		return false, fmt.Errorf("checkpoint postgres: marshal: %w", err)
	}

	const update = `
		UPDATE checkpoints
		SET messages = $2, token_count = $3, updated_at = now()
		WHERE thread_id = $1`
	if _, err := tx.Exec(ctx, update, threadID, body, tokens+estimateMessageTokens(msg)); err != nil {
		return false, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Append", "update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Append", "commit: %w", err)
	}
	return true, nil
}

// Save implements Store.
func (s *PGStore) Save(ctx context.Context, cp *Checkpoint) error {
	body, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("checkpoint postgres: marshal: %w", err)
	}

	const upsert = `
		INSERT INTO checkpoints (thread_id, messages, summary, summary_up_to, token_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (thread_id) DO UPDATE SET
			messages      = excluded.messages,
			summary       = excluded.summary,
			summary_up_to = excluded.summary_up_to,
			token_count   = excluded.token_count,
			updated_at    = now()`
	if _, err := s.pool.Exec(ctx, upsert, cp.ThreadID, body, cp.Summary, cp.SummaryUpTo, cp.TokenCount); err != nil {
		return fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Save", "%w", err)
	}
	return nil
}

// Delete implements Store.
func (s *PGStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fault.Errorf(fault.KindBackendUnavailable, "checkpoint.postgres.Delete", "%w", err)
	}
	return nil
}

// Close implements Store.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PGStore)(nil)
