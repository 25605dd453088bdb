package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/pkg/memory"
	"github.com/voxgate/voxgate/pkg/types"
)

// Memory tool constants.
const (
	// memoryNamespaceRoot is the first namespace element for all memory items.
	memoryNamespaceRoot = "memories"

	// searchMemoryLimit caps search_memory results.
	searchMemoryLimit = 5

	// noMemoriesSentinel is returned when the user has no stored memories.
	noMemoriesSentinel = "no relevant memories found"

	// memorySavedAck is returned after a successful save_memory call.
	memorySavedAck = "memory saved"
)

// searchMemoryArgs is the JSON-decoded input for the "search_memory" tool.
type searchMemoryArgs struct {
	// Query is what the model is looking for. Recall is recency-based; the
	// query is part of the tool contract but does not narrow the result set.
	Query string `json:"query"`

	// UserID scopes the search to one user's namespace.
	UserID string `json:"user_id"`
}

// saveMemoryArgs is the JSON-decoded input for the "save_memory" tool.
type saveMemoryArgs struct {
	// Content is the memory text to persist.
	Content string `json:"content"`

	// UserID scopes the item to one user's namespace.
	UserID string `json:"user_id"`
}

// memoryNamespace builds the per-user namespace. All memory tool traffic
// stays under this prefix; there is no cross-user path.
func memoryNamespace(userID string) []string {
	return []string{memoryNamespaceRoot, userID}
}

// makeSearchMemoryHandler returns a handler for the "search_memory" tool.
// Results come back newest-first, capped at searchMemoryLimit.
func makeSearchMemoryHandler(store memory.Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a searchMemoryArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("memory tool: search_memory: failed to parse arguments: %w", err)
		}
		if a.UserID == "" {
			return "", fmt.Errorf("memory tool: search_memory: user_id must not be empty")
		}

		items, err := store.Search(ctx, memory.Query{
			NamespacePrefix: memoryNamespace(a.UserID),
			Limit:           searchMemoryLimit,
		})
		if err != nil {
			return "", fmt.Errorf("memory tool: search_memory: %w", err)
		}
		if len(items) == 0 {
			return noMemoriesSentinel, nil
		}

		lines := make([]string, 0, len(items))
		for _, item := range items {
			lines = append(lines, formatMemoryItem(item))
		}
		return strings.Join(lines, "\n"), nil
	}
}

// makeSaveMemoryHandler returns a handler for the "save_memory" tool. Every
// call stores a fresh item; nothing is overwritten.
func makeSaveMemoryHandler(store memory.Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a saveMemoryArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("memory tool: save_memory: failed to parse arguments: %w", err)
		}
		if a.UserID == "" {
			return "", fmt.Errorf("memory tool: save_memory: user_id must not be empty")
		}
		if a.Content == "" {
			return "", fmt.Errorf("memory tool: save_memory: content must not be empty")
		}

		err := store.Put(ctx, memory.Item{
			Namespace: memoryNamespace(a.UserID),
			Key:       uuid.NewString(),
			Value:     map[string]any{"content": a.Content},
		})
		if err != nil {
			return "", fmt.Errorf("memory tool: save_memory: %w", err)
		}
		return memorySavedAck, nil
	}
}

// formatMemoryItem renders one stored item as a line of text.
func formatMemoryItem(item memory.Item) string {
	if s, ok := item.Value["content"].(string); ok {
		return s
	}
	data, err := json.Marshal(item.Value)
	if err != nil {
		return ""
	}
	return string(data)
}

// NewMemoryTools constructs the built-in memory tools wired to store.
// Register each returned tool on a [Host] via [Host.RegisterBuiltin].
func NewMemoryTools(store memory.Store) []BuiltinTool {
	return []BuiltinTool{
		{
			Definition: types.ToolDefinition{
				Name:        "search_memory",
				Description: "Search the user's long-term memories. Returns up to five of the most recent memories for this user, one per line. Use before answering questions that may depend on earlier conversations.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "What you are looking for in the user's memories.",
						},
						"user_id": map[string]any{
							"type":        "string",
							"description": "The ID of the user whose memories to search.",
						},
					},
					"required": []string{"query", "user_id"},
				},
			},
			Handler: makeSearchMemoryHandler(store),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "save_memory",
				Description: "Save a fact about the user to long-term memory. Use when the user shares something worth remembering across conversations, such as preferences, goals, or personal details.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{
							"type":        "string",
							"description": "The fact to remember, phrased as a standalone sentence.",
						},
						"user_id": map[string]any{
							"type":        "string",
							"description": "The ID of the user this memory belongs to.",
						},
					},
					"required": []string{"content", "user_id"},
				},
			},
			Handler: makeSaveMemoryHandler(store),
		},
	}
}
