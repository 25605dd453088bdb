package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Compile-time interface assertion.
var _ Store = (*EmbeddedStore)(nil)

// EmbeddedStore runs an in-process redis server (miniredis) and layers the
// regular RedisStore on top, so the remote-KV code path works without an
// external server. When a snapshot path is configured, keys are loaded from
// it at startup and written back on Close, giving the embedded mode
// restart durability.
type EmbeddedStore struct {
	*RedisStore
	mini         *miniredis.Miniredis
	snapshotPath string
}

// NewEmbeddedStore starts the in-process server, loads the snapshot at
// snapshotPath if one exists (empty path disables snapshotting), and
// connects a client to it.
func NewEmbeddedStore(snapshotPath string, opts ...RedisOption) (*EmbeddedStore, error) {
	mini, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("session embedded: start: %w", err)
	}

	if snapshotPath != "" {
		if err := loadSnapshot(mini, snapshotPath); err != nil {
			mini.Close()
			return nil, fmt.Errorf("session embedded: load snapshot: %w", err)
		}
	}

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	return &EmbeddedStore{
		RedisStore:   NewRedisStore(client, opts...),
		mini:         mini,
		snapshotPath: snapshotPath,
	}, nil
}

// Close writes the snapshot (when configured), closes the client, and stops
// the in-process server.
func (e *EmbeddedStore) Close() error {
	var snapErr error
	if e.snapshotPath != "" {
		snapErr = writeSnapshot(e.mini, e.snapshotPath)
	}
	clientErr := e.RedisStore.Close()
	e.mini.Close()
	return errors.Join(snapErr, clientErr)
}

// loadSnapshot restores string keys from a JSON file. A missing file is not
// an error; the store simply starts empty.
func loadSnapshot(mini *miniredis.Miniredis, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var keys map[string]string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range keys {
		if err := mini.Set(k, v); err != nil {
			return fmt.Errorf("restore key %s: %w", k, err)
		}
	}
	return nil
}

// writeSnapshot dumps all string keys to a JSON file via rename for a
// consistent on-disk state.
func writeSnapshot(mini *miniredis.Miniredis, path string) error {
	keys := map[string]string{}
	for _, k := range mini.Keys() {
		v, err := mini.Get(k)
		if err != nil {
			// Non-string keys (sets, hashes) are not part of the snapshot.
			continue
		}
		keys[k] = v
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
