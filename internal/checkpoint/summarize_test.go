package checkpoint

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/llm/mock"
)

func TestLLMSummarizer_EmptyTailReturnsExisting(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{}
	sum := NewLLMSummarizer(provider, 0)

	got, err := sum.Summarize(context.Background(), "prior summary", nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "prior summary" {
		t.Errorf("expected existing summary back, got %q", got)
	}
	if len(provider.CompleteCalls) != 0 {
		t.Errorf("expected no LLM call for empty tail, got %d", len(provider.CompleteCalls))
	}
}

func TestLLMSummarizer_RequestShape(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "new summary"},
	}
	sum := NewLLMSummarizer(provider, 64)

	tail := []Message{
		{Role: "user", Content: "how much is the pro plan"},
		{Role: "assistant", Content: "forty dollars a month"},
	}
	got, err := sum.Summarize(context.Background(), "user is evaluating plans", tail)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "new summary" {
		t.Errorf("expected model output, got %q", got)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("expected 1 LLM call, got %d", len(provider.CompleteCalls))
	}
	req := provider.CompleteCalls[0].Req
	if req.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", req.Temperature)
	}
	if req.MaxTokens != 64 {
		t.Errorf("expected max tokens 64, got %d", req.MaxTokens)
	}
	if req.SystemPrompt == "" {
		t.Error("expected a summarization system prompt")
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected single transcript message, got %d", len(req.Messages))
	}
	body := req.Messages[0].Content
	for _, want := range []string{"user is evaluating plans", "how much is the pro plan", "forty dollars a month"} {
		if !strings.Contains(body, want) {
			t.Errorf("transcript missing %q:\n%s", want, body)
		}
	}
}

func TestLLMSummarizer_NoPriorSummaryOmitsPreamble(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "s"},
	}
	sum := NewLLMSummarizer(provider, 0)

	if _, err := sum.Summarize(context.Background(), "", []Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	body := provider.CompleteCalls[0].Req.Messages[0].Content
	if strings.Contains(body, "Previous summary") {
		t.Errorf("expected no previous-summary preamble, got:\n%s", body)
	}
}

func TestLLMSummarizer_DefaultMaxTokens(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "s"},
	}
	sum := NewLLMSummarizer(provider, 0)

	if _, err := sum.Summarize(context.Background(), "", []Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got := provider.CompleteCalls[0].Req.MaxTokens; got != defaultMaxSummaryTokens {
		t.Errorf("expected default cap %d, got %d", defaultMaxSummaryTokens, got)
	}
}

func TestLLMSummarizer_PropagatesError(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{CompleteErr: errors.New("throttled")}
	sum := NewLLMSummarizer(provider, 0)

	_, err := sum.Summarize(context.Background(), "", []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error from provider")
	}
	if !strings.Contains(err.Error(), "throttled") {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
}
