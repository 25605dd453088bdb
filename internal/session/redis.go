package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/pkg/fault"
)

// Compile-time interface assertion.
var _ Store = (*RedisStore)(nil)

// defaultOpTimeout bounds every backend round-trip.
const defaultOpTimeout = 5 * time.Second

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets a time-to-live on session keys; expired sessions count as
// closed. 0 (the default) disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithOpTimeout overrides the per-operation timeout (default 5s).
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.opTimeout = d
	}
}

// RedisStore is a Store backed by a remote key-value server. Sessions are
// stored as JSON under their tuple key; creation races are settled with
// SET NX so exactly one creator wins.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
}

// NewRedisStore creates a session store on an existing go-redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		opTimeout: defaultOpTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOrCreate implements Store.
func (s *RedisStore) GetOrCreate(ctx context.Context, key Key) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	k := key.String()

	// Two rounds cover the race where the winning creator's key lands
	// between our GET and SET NX.
	for range 2 {
		existing, err := s.get(ctx, k)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.IsActive {
			return existing, nil
		}
		if existing != nil {
			// Tombstoned session: drop it so a fresh one can claim the key.
			if err := s.client.Del(ctx, k).Err(); err != nil {
				return nil, fault.Errorf(fault.KindBackendUnavailable, "session.redis.GetOrCreate", "clear tombstone: %w", err)
			}
		}

		fresh := newSession(key)
		body, err := json.Marshal(fresh)
		if err != nil {
			return nil, fmt.Errorf("session redis: marshal: %w", err)
		}
		ok, err := s.client.SetNX(ctx, k, body, s.ttl).Result()
		if err != nil {
			return nil, fault.Errorf(fault.KindBackendUnavailable, "session.redis.GetOrCreate", "setnx: %w", err)
		}
		if ok {
			return fresh, nil
		}
		// Lost the race; loop to read the winner.
	}
	return nil, fault.Errorf(fault.KindBackendUnavailable, "session.redis.GetOrCreate", "could not settle session for %s", k)
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	key := Key{Tenant: sess.TenantID, Channel: sess.Channel, UserExternalID: sess.UserExternalID}
	if err := key.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	touch(sess)
	body, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session redis: marshal: %w", err)
	}
	if err := s.client.Set(ctx, key.String(), body, s.ttl).Err(); err != nil {
		return fault.Errorf(fault.KindBackendUnavailable, "session.redis.Save", "set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, key.String()).Err(); err != nil {
		return fault.Errorf(fault.KindBackendUnavailable, "session.redis.Delete", "%w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// get reads one session by tuple key; (nil, nil) when absent.
func (s *RedisStore) get(ctx context.Context, k string) (*Session, error) {
	data, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Errorf(fault.KindBackendUnavailable, "session.redis.get", "%w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session redis: unmarshal: %w", err)
	}
	return &sess, nil
}
