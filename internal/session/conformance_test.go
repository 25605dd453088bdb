package session

import (
	"context"
	"errors"
	"testing"
)

// testStoreConformance exercises the Store contract shared by every backend.
func testStoreConformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("rejects invalid key", func(t *testing.T) {
		_, err := store.GetOrCreate(ctx, Key{Tenant: "acme"})
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("creates with defaults", func(t *testing.T) {
		s, err := store.GetOrCreate(ctx, Key{Tenant: "acme", Channel: "web", UserExternalID: "u-defaults"})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if s.ID == "" {
			t.Fatal("expected non-empty session ID")
		}
		if s.AgentID != "default" {
			t.Errorf("expected agent %q, got %q", "default", s.AgentID)
		}
		if s.ThreadID != "session:"+s.ID {
			t.Errorf("expected thread ID %q, got %q", "session:"+s.ID, s.ThreadID)
		}
		if !s.IsActive {
			t.Error("expected active session")
		}
	})

	t.Run("stable identity for same tuple", func(t *testing.T) {
		key := Key{Tenant: "acme", Channel: "web", UserExternalID: "u-stable"}
		first, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("first GetOrCreate: %v", err)
		}
		second, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("second GetOrCreate: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected same session, got %q then %q", first.ID, second.ID)
		}
	})

	t.Run("trims tuple components", func(t *testing.T) {
		ragged, err := store.GetOrCreate(ctx, Key{Tenant: " acme ", Channel: "web", UserExternalID: " u-trim "})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		clean, err := store.GetOrCreate(ctx, Key{Tenant: "acme", Channel: "web", UserExternalID: "u-trim"})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if ragged.ID != clean.ID {
			t.Errorf("expected trimmed key to resolve the same session, got %q and %q", ragged.ID, clean.ID)
		}
	})

	t.Run("save persists and advances UpdatedAt", func(t *testing.T) {
		key := Key{Tenant: "acme", Channel: "web", UserExternalID: "u-save"}
		s, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		before := s.UpdatedAt
		s.AgentID = "concierge"
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if !s.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance, got %v then %v", before, s.UpdatedAt)
		}

		got, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("GetOrCreate after save: %v", err)
		}
		if got.AgentID != "concierge" {
			t.Errorf("expected saved agent %q, got %q", "concierge", got.AgentID)
		}
		if got.ID != s.ID {
			t.Errorf("save must not change identity: %q vs %q", s.ID, got.ID)
		}
	})

	t.Run("tombstone yields a fresh session", func(t *testing.T) {
		key := Key{Tenant: "acme", Channel: "web", UserExternalID: "u-tomb"}
		old, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		old.IsActive = false
		if err := store.Save(ctx, old); err != nil {
			t.Fatalf("Save tombstone: %v", err)
		}

		fresh, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("GetOrCreate after tombstone: %v", err)
		}
		if fresh.ID == old.ID {
			t.Error("expected a new session after tombstoning")
		}
		if !fresh.IsActive {
			t.Error("expected replacement session to be active")
		}
	})

	t.Run("delete then recreate", func(t *testing.T) {
		key := Key{Tenant: "acme", Channel: "web", UserExternalID: "u-del"}
		old, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if err := store.Delete(ctx, key); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		fresh, err := store.GetOrCreate(ctx, key)
		if err != nil {
			t.Fatalf("GetOrCreate after delete: %v", err)
		}
		if fresh.ID == old.ID {
			t.Error("expected a new session after delete")
		}
	})

	t.Run("delete missing is not an error", func(t *testing.T) {
		if err := store.Delete(ctx, Key{Tenant: "acme", Channel: "web", UserExternalID: "u-never"}); err != nil {
			t.Errorf("Delete on missing key: %v", err)
		}
	})

	t.Run("tuples do not collide", func(t *testing.T) {
		a, err := store.GetOrCreate(ctx, Key{Tenant: "acme", Channel: "web", UserExternalID: "u-iso"})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		b, err := store.GetOrCreate(ctx, Key{Tenant: "acme", Channel: "line", UserExternalID: "u-iso"})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		c, err := store.GetOrCreate(ctx, Key{Tenant: "globex", Channel: "web", UserExternalID: "u-iso"})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		if a.ID == b.ID || a.ID == c.ID || b.ID == c.ID {
			t.Errorf("expected distinct sessions per tuple, got %q %q %q", a.ID, b.ID, c.ID)
		}
	})
}
