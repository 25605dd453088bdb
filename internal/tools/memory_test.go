package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/memory/inmem"
	memorymock "github.com/voxgate/voxgate/pkg/memory/mock"
)

// newMemoryHost registers the memory tools on a fresh host backed by an
// in-memory store.
func newMemoryHost(t *testing.T) (*Host, *inmem.Store) {
	t.Helper()
	store := inmem.New()
	t.Cleanup(func() { store.Close() })

	h := New()
	t.Cleanup(func() { h.Close() })
	for _, tool := range NewMemoryTools(store) {
		if err := h.RegisterBuiltin(tool); err != nil {
			t.Fatalf("RegisterBuiltin: %v", err)
		}
	}
	return h, store
}

func searchArgs(query, userID string) string {
	data, _ := json.Marshal(searchMemoryArgs{Query: query, UserID: userID})
	return string(data)
}

func saveArgs(content, userID string) string {
	data, _ := json.Marshal(saveMemoryArgs{Content: content, UserID: userID})
	return string(data)
}

func TestMemoryTools_Registered(t *testing.T) {
	t.Parallel()
	h, _ := newMemoryHost(t)

	defs := h.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(defs))
	}
	if defs[0].Name != "save_memory" || defs[1].Name != "search_memory" {
		t.Errorf("unexpected tool set: %q, %q", defs[0].Name, defs[1].Name)
	}
	for _, d := range defs {
		if d.Description == "" || d.Parameters == nil {
			t.Errorf("tool %q missing description or schema", d.Name)
		}
	}
}

func TestSearchMemory_EmptyReturnsSentinel(t *testing.T) {
	t.Parallel()
	h, _ := newMemoryHost(t)

	got, err := h.Execute(context.Background(), "search_memory", searchArgs("anything", "u1"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != noMemoriesSentinel {
		t.Errorf("expected sentinel %q, got %q", noMemoriesSentinel, got)
	}
}

func TestSaveThenSearchMemory(t *testing.T) {
	t.Parallel()
	h, _ := newMemoryHost(t)
	ctx := context.Background()

	ack, err := h.Execute(ctx, "save_memory", saveArgs("prefers the window seat", "u1"))
	if err != nil {
		t.Fatalf("save_memory: %v", err)
	}
	if ack != memorySavedAck {
		t.Errorf("expected ack %q, got %q", memorySavedAck, ack)
	}

	got, err := h.Execute(ctx, "search_memory", searchArgs("seating", "u1"))
	if err != nil {
		t.Fatalf("search_memory: %v", err)
	}
	if !strings.Contains(got, "prefers the window seat") {
		t.Errorf("expected saved memory in results, got %q", got)
	}
}

func TestSearchMemory_CapsAtFiveNewestFirst(t *testing.T) {
	t.Parallel()
	h, store := newMemoryHost(t)
	ctx := context.Background()

	// Seed directly with spaced timestamps so recency order is unambiguous.
	base := time.Now().Add(-time.Hour)
	for i := range 7 {
		item := memory.Item{
			Namespace: memoryNamespace("u1"),
			Key:       fmt.Sprintf("k%d", i),
			Value:     map[string]any{"content": fmt.Sprintf("memory %d", i)},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Put(ctx, item); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := h.Execute(ctx, "search_memory", searchArgs("anything", "u1"))
	if err != nil {
		t.Fatalf("search_memory: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), got)
	}
	if lines[0] != "memory 6" {
		t.Errorf("expected newest memory first, got %q", lines[0])
	}
	if strings.Contains(got, "memory 0") || strings.Contains(got, "memory 1") {
		t.Errorf("expected oldest memories dropped, got %q", got)
	}
}

func TestMemoryTools_UserIsolation(t *testing.T) {
	t.Parallel()
	h, _ := newMemoryHost(t)
	ctx := context.Background()

	if _, err := h.Execute(ctx, "save_memory", saveArgs("alice's secret", "alice")); err != nil {
		t.Fatalf("save_memory: %v", err)
	}

	got, err := h.Execute(ctx, "search_memory", searchArgs("secret", "bob"))
	if err != nil {
		t.Fatalf("search_memory: %v", err)
	}
	if got != noMemoriesSentinel {
		t.Errorf("expected bob to see nothing, got %q", got)
	}
}

func TestSaveMemory_Validation(t *testing.T) {
	t.Parallel()
	h, _ := newMemoryHost(t)
	ctx := context.Background()

	if _, err := h.Execute(ctx, "save_memory", saveArgs("", "u1")); err == nil {
		t.Error("expected error for empty content")
	}
	if _, err := h.Execute(ctx, "save_memory", saveArgs("fact", "")); err == nil {
		t.Error("expected error for empty user_id")
	}
	if _, err := h.Execute(ctx, "save_memory", "{not json"); err == nil {
		t.Error("expected error for malformed args")
	}
}

func TestSearchMemory_Validation(t *testing.T) {
	t.Parallel()
	h, _ := newMemoryHost(t)
	ctx := context.Background()

	if _, err := h.Execute(ctx, "search_memory", searchArgs("q", "")); err == nil {
		t.Error("expected error for empty user_id")
	}
	if _, err := h.Execute(ctx, "search_memory", "{not json"); err == nil {
		t.Error("expected error for malformed args")
	}
}

func TestSaveMemory_FreshKeyPerCall(t *testing.T) {
	t.Parallel()
	h, store := newMemoryHost(t)
	ctx := context.Background()

	for range 3 {
		if _, err := h.Execute(ctx, "save_memory", saveArgs("same content", "u1")); err != nil {
			t.Fatalf("save_memory: %v", err)
		}
	}

	items, err := store.Search(ctx, memory.Query{NamespacePrefix: memoryNamespace("u1")})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 distinct items, got %d", len(items))
	}
}

func TestMemoryTools_BackendFailureSurfaces(t *testing.T) {
	t.Parallel()

	store := &memorymock.Store{
		SearchErr: errors.New("backend down"),
		PutErr:    errors.New("backend down"),
	}
	h := New()
	t.Cleanup(func() { h.Close() })
	for _, tool := range NewMemoryTools(store) {
		if err := h.RegisterBuiltin(tool); err != nil {
			t.Fatalf("RegisterBuiltin: %v", err)
		}
	}
	ctx := context.Background()

	if _, err := h.Execute(ctx, "search_memory", searchArgs("q", "u1")); err == nil {
		t.Error("search_memory with failing backend: expected error")
	}
	if _, err := h.Execute(ctx, "save_memory", saveArgs("fact", "u1")); err == nil {
		t.Error("save_memory with failing backend: expected error")
	}
	if got := store.CallCount("Search"); got != 1 {
		t.Errorf("Search calls = %d, want 1", got)
	}
	if got := store.CallCount("Put"); got != 1 {
		t.Errorf("Put calls = %d, want 1", got)
	}
}
