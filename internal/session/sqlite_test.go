package session

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Conformance(t *testing.T) {
	t.Parallel()
	testStoreConformance(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()
	key := Key{Tenant: "acme", Channel: "line", UserExternalID: "u-reopen"}

	first, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	created, err := first.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.GetOrCreate(ctx, key)
	if err != nil {
		t.Fatalf("GetOrCreate after reopen: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("expected session %q to survive reopen, got %q", created.ID, got.ID)
	}
	if got.ThreadID != created.ThreadID {
		t.Errorf("expected thread %q to survive reopen, got %q", created.ThreadID, got.ThreadID)
	}
}
