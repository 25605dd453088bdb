package checkpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/types"
)

// summarizationPrompt is the system prompt sent to the LLM when folding
// conversation history into a rolling summary.
const summarizationPrompt = `Summarize the following conversation between a user and an assistant.
Preserve: stated facts about the user, preferences, decisions made, open requests,
and any commitments the assistant gave. Be concise; drop greetings and filler.
If a previous summary is provided, fold it into the new one rather than repeating it.`

// defaultMaxSummaryTokens caps summary length when no explicit cap is given.
const defaultMaxSummaryTokens = 128

// Summarizer condenses a summary-so-far plus new messages into an updated
// summary.
type Summarizer interface {
	// Summarize returns a new summary covering both the existing summary and
	// the tail messages. An empty tail returns the existing summary unchanged.
	Summarize(ctx context.Context, summary string, tail []Message) (string, error)
}

// LLMSummarizer produces summaries with an LLM provider.
type LLMSummarizer struct {
	llm       llm.Provider
	maxTokens int
}

// NewLLMSummarizer creates a summarizer backed by the given provider.
// maxTokens caps the summary length; zero applies the default of 128.
func NewLLMSummarizer(provider llm.Provider, maxTokens int) *LLMSummarizer {
	if maxTokens <= 0 {
		maxTokens = defaultMaxSummaryTokens
	}
	return &LLMSummarizer{llm: provider, maxTokens: maxTokens}
}

// Summarize implements Summarizer. The existing summary and the tail are
// formatted into a single transcript and sent at low temperature so output
// stays close to the source material.
func (s *LLMSummarizer) Summarize(ctx context.Context, summary string, tail []Message) (string, error) {
	if len(tail) == 0 {
		return summary, nil
	}

	var sb strings.Builder
	if summary != "" {
		fmt.Fprintf(&sb, "Previous summary:\n%s\n\nNew messages:\n", summary)
	}
	for _, m := range tail {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarizationPrompt,
		Messages: []types.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.3,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return resp.Content, nil
}

var _ Summarizer = (*LLMSummarizer)(nil)
