// Package types defines the shared types used across all voxgate packages.
//
// These types form the lingua franca between providers, the streaming
// pipeline, the stores, and the orchestrator. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// TextChunk is one ordered text emission of a turn. Chunks arrive as the LLM
// produces them; the final chunk is an empty marker.
type TextChunk struct {
	// TurnID identifies the turn this chunk belongs to.
	TurnID string

	// SequenceIndex is strictly increasing per turn, starting at 1.
	// The final marker carries the last issued index plus one.
	SequenceIndex int

	// Text is the chunk content. Empty on the final marker.
	Text string

	// Final is true exactly once per turn, on the last chunk.
	Final bool
}

// AudioFrame is one ordered audio emission of a turn. Frames are
// sentence-aligned groups of synthesized bytes; the final frame is an empty
// marker. AudioFrame and TextChunk use independent sequence spaces.
type AudioFrame struct {
	// TurnID identifies the turn this frame belongs to.
	TurnID string

	// SequenceIndex is strictly increasing per turn, starting at 1.
	// The final marker carries the last issued index plus one.
	SequenceIndex int

	// Payload is the synthesized audio. Empty on the final marker.
	Payload []byte

	// Final is true exactly once per turn, on the last frame.
	Final bool
}

// Emotion classifies the affect detected on a user turn. It is attached to
// turn metadata before dispatch and never re-evaluated mid-turn.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionHappy      Emotion = "happy"
	EmotionFrustrated Emotion = "frustrated"
	EmotionUrgent     Emotion = "urgent"
	EmotionConfused   Emotion = "confused"
)

// IsValid reports whether e is one of the defined emotions.
func (e Emotion) IsValid() bool {
	switch e {
	case EmotionNeutral, EmotionHappy, EmotionFrustrated, EmotionUrgent, EmotionConfused:
		return true
	}
	return false
}

// Path identifies which side of the dual system answered a turn.
type Path string

const (
	// PathReflex is the deterministic, non-LLM fast path.
	PathReflex Path = "reflex"

	// PathCognition is the LLM-backed path with optional tool calls.
	PathCognition Path = "cognition"
)
