package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	llmmock "github.com/voxgate/voxgate/pkg/provider/llm/mock"
	"github.com/voxgate/voxgate/pkg/types"
)

func TestLLMWithFallback_CompletePrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
	}

	f := NewLLMWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q, want from primary", resp.Content)
	}
	if len(secondary.CompleteCalls) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.CompleteCalls))
	}
}

func TestLLMWithFallback_CompleteFailsOver(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errTest}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
	}

	f := NewLLMWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Errorf("content = %q, want from secondary", resp.Content)
	}
	if len(primary.CompleteCalls) != 1 {
		t.Errorf("primary called %d times, want 1", len(primary.CompleteCalls))
	}
}

func TestLLMWithFallback_StreamFailsOver(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: errTest}
	secondary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "hello"}},
	}

	f := NewLLMWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var content string
	for c := range ch {
		content += c.Text
	}
	if content != "hello" {
		t.Errorf("streamed content = %q, want hello", content)
	}
}

func TestLLMWithFallback_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errTest}
	secondary := &llmmock.Provider{CompleteErr: errTest}

	f := NewLLMWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMWithFallback_CountTokensUsesPrimary(t *testing.T) {
	primary := &llmmock.Provider{TokenCount: 42}
	secondary := &llmmock.Provider{TokenCount: 7}

	f := NewLLMWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	n, err := f.CountTokens([]types.Message{{Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("token count = %d, want 42", n)
	}
}

func TestLLMWithFallback_CapabilitiesUsesPrimary(t *testing.T) {
	primary := &llmmock.Provider{
		ModelCapabilities: llm.Capabilities{SupportsToolCalling: true},
	}
	secondary := &llmmock.Provider{}

	f := NewLLMWithFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	if !f.Capabilities().SupportsToolCalling {
		t.Error("Capabilities() should reflect the primary")
	}
	if secondary.CapabilitiesCallCount != 0 {
		t.Error("secondary Capabilities should not be called")
	}
}
