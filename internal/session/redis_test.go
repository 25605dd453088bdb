package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voxgate/voxgate/pkg/fault"
)

func newTestRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, opts...)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_Conformance(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStore(t)
	testStoreConformance(t, store)
}

func TestRedisStore_TTLExpiryYieldsFreshSession(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()
	key := Key{Tenant: "acme", Channel: "web", UserExternalID: "u-ttl"}

	first, err := store.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	mr.FastForward(30 * time.Second)
	mid, err := store.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate before expiry: %v", err)
	}
	if mid.ID != first.ID {
		t.Errorf("expected same session before expiry, got %q then %q", first.ID, mid.ID)
	}

	mr.FastForward(2 * time.Minute)
	after, err := store.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate after expiry: %v", err)
	}
	if after.ID == first.ID {
		t.Error("expected a fresh session after TTL expiry")
	}
}

func TestRedisStore_SaveRefreshesTTL(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStore(t, WithTTL(time.Minute))
	ctx := context.Background()
	key := Key{Tenant: "acme", Channel: "web", UserExternalID: "u-refresh"}

	s, err := store.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Saving inside the window restarts the clock, so the session survives
	// past the original deadline.
	mr.FastForward(45 * time.Second)
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.FastForward(45 * time.Second)

	got, err := store.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("expected session to survive refreshed TTL, got %q want %q", got.ID, s.ID)
	}
}

func TestRedisStore_BackendDownIsClassified(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStore(t, WithOpTimeout(time.Second))
	mr.Close()

	_, err := store.GetOrCreate(context.Background(), Key{Tenant: "acme", Channel: "web", UserExternalID: "u-down"})
	if err == nil {
		t.Fatal("expected error with backend down")
	}
	if kind := fault.KindOf(err); kind != fault.KindBackendUnavailable {
		t.Errorf("expected KindBackendUnavailable, got %v", kind)
	}
}
