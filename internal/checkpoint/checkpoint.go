// Package checkpoint persists per-thread conversation history so the
// cognition path can reconstruct context across turns.
//
// A checkpoint belongs to exactly one thread. Appends are serialized per
// thread by every backend, and a background summarization pass
// ([Manager]) folds old messages into a rolling summary once the
// checkpoint grows past a token threshold, keeping reconstructed context
// bounded without losing continuity.
//
// All exported types are safe for concurrent use.
package checkpoint

import (
	"context"
	"time"

	"github.com/voxgate/voxgate/pkg/types"
)

// DefaultThreadID is the thread used when neither a session nor a user
// identity is available.
const DefaultThreadID = "default"

// ThreadID derives the checkpoint thread for a turn. A session binds the
// thread to the session lifetime; without one the thread falls back to the
// (user, agent scope) pair, and finally to [DefaultThreadID].
func ThreadID(sessionID, userID, agentScope string) string {
	switch {
	case sessionID != "":
		return "session:" + sessionID
	case userID != "":
		return "user:" + userID + ":" + agentScope
	default:
		return DefaultThreadID
	}
}

// Message is one stored conversation entry.
type Message struct {
	// Role is one of "user", "assistant", or "system".
	Role string

	// Content is the message text.
	Content string

	// Timestamp is when the message was appended.
	Timestamp time.Time
}

// Checkpoint is the persisted conversation state for one thread.
type Checkpoint struct {
	// ThreadID identifies the thread this checkpoint belongs to.
	ThreadID string

	// Messages is the append-only conversation history.
	Messages []Message

	// Summary condenses Messages[:SummaryUpTo]. Empty until the first
	// summarization pass completes.
	Summary string

	// SummaryUpTo is the number of leading messages covered by Summary.
	SummaryUpTo int

	// TokenCount approximates the tokens needed to reconstruct context
	// (summary plus uncovered tail). Compared against the summarization
	// trigger.
	TokenCount int

	// UpdatedAt is when the checkpoint last changed.
	UpdatedAt time.Time
}

// Tail returns the messages not yet covered by the summary.
func (c *Checkpoint) Tail() []Message {
	upTo := c.SummaryUpTo
	if upTo < 0 {
		upTo = 0
	}
	if upTo > len(c.Messages) {
		upTo = len(c.Messages)
	}
	return c.Messages[upTo:]
}

// ContextMessages materializes the checkpoint into an LLM message list:
// the summary (when present) as a leading system message, followed by the
// uncovered tail.
func (c *Checkpoint) ContextMessages() []types.Message {
	tail := c.Tail()
	out := make([]types.Message, 0, len(tail)+1)
	if c.Summary != "" {
		out = append(out, types.Message{
			Role:    "system",
			Content: "Summary of the conversation so far: " + c.Summary,
		})
	}
	for _, m := range tail {
		out = append(out, types.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Store is the abstraction over any checkpoint backend.
type Store interface {
	// Load returns the checkpoint for threadID, or (nil, nil) when the
	// thread has no checkpoint yet.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)

	// Append adds msg to the thread's history, creating the checkpoint if
	// missing. Appends on the same thread are serialized; concurrent turns
	// never interleave partial writes.
	Append(ctx context.Context, threadID string, msg Message) error

	// Save persists the full checkpoint state, replacing what is stored.
	Save(ctx context.Context, cp *Checkpoint) error

	// Delete removes the thread's checkpoint. Deleting a missing thread is
	// not an error.
	Delete(ctx context.Context, threadID string) error

	// Close releases backend resources.
	Close() error
}

// Token estimation fallback when no provider tokenizer is available.
// Four characters per token is a workable approximation for English text;
// the per-message overhead accounts for role framing.
const (
	charsPerToken         = 4
	messageOverheadTokens = 3
)

// estimateMessageTokens approximates the context cost of a single message.
func estimateMessageTokens(m Message) int {
	return len(m.Content)/charsPerToken + messageOverheadTokens
}

// estimateTokens approximates the context cost of a summary plus tail.
func estimateTokens(summary string, tail []Message) int {
	total := 0
	if summary != "" {
		total = len(summary)/charsPerToken + messageOverheadTokens
	}
	for _, m := range tail {
		total += estimateMessageTokens(m)
	}
	return total
}

// clone returns an independent copy so callers cannot mutate stored state.
func clone(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.Messages = make([]Message, len(cp.Messages))
	copy(out.Messages, cp.Messages)
	return &out
}
