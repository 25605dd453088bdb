package session

import (
	"context"
	"path/filepath"
	"testing"
)

func TestEmbeddedStore_SnapshotRoundtrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx := context.Background()
	key := Key{Tenant: "acme", Channel: "web", UserExternalID: "u-snap"}

	first, err := NewEmbeddedStore(path)
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	created, err := first.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := NewEmbeddedStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate after reopen: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected session %q to survive snapshot reload, got %q", created.ID, got.ID)
	}
}

func TestEmbeddedStore_MissingSnapshotIsFine(t *testing.T) {
	t.Parallel()
	store, err := NewEmbeddedStore(filepath.Join(t.TempDir(), "never-written.json"))
	if err != nil {
		t.Fatalf("NewEmbeddedStore without snapshot: %v", err)
	}
	defer store.Close()

	if _, err := store.GetOrCreate(context.Background(), Key{Tenant: "acme", Channel: "web", UserExternalID: "u-new"}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
}

func TestEmbeddedStore_Conformance(t *testing.T) {
	t.Parallel()
	store, err := NewEmbeddedStore(filepath.Join(t.TempDir(), "conf.json"))
	if err != nil {
		t.Fatalf("NewEmbeddedStore: %v", err)
	}
	defer store.Close()
	testStoreConformance(t, store)
}
