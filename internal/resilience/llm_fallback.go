package resilience

import (
	"context"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

// LLMWithFallback implements [llm.Provider] with automatic failover across
// multiple LLM backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
type LLMWithFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMWithFallback)(nil)

// NewLLMWithFallback creates an [LLMWithFallback] with primary as the
// preferred backend.
func NewLLMWithFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMWithFallback {
	return &LLMWithFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMWithFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// StreamCompletion sends the request to the first healthy provider and
// returns its streaming chunk channel. Only the initial connection attempt is
// covered by failover; once a stream is established, mid-stream errors
// surface as chunks with FinishReason "error" and are the caller's
// responsibility.
func (f *LLMWithFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMWithFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens delegates to the primary's token counter. Counting is a local
// estimate, so failover would only trade one approximation for another.
func (f *LLMWithFallback) CountTokens(messages []types.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities returns the capabilities of the primary. Static metadata does
// not participate in failover.
func (f *LLMWithFallback) Capabilities() llm.Capabilities {
	return f.group.Primary().Capabilities()
}
