package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/types"
)

// Defaults for the summarization manager.
const (
	defaultTriggerTokens = 1024
	summarizeTimeout     = 60 * time.Second
)

// TokenCounter counts the context cost of a message list. llm.Provider
// satisfies it; when counting fails or no counter is configured the manager
// falls back to a character-based estimate.
type TokenCounter interface {
	CountTokens(messages []types.Message) (int, error)
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithTriggerTokens sets the token count above which summarization runs.
// Defaults to 1024.
func WithTriggerTokens(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.trigger = n
		}
	}
}

// WithTokenCounter sets the tokenizer used to recount checkpoints after
// summarization.
func WithTokenCounter(c TokenCounter) ManagerOption {
	return func(m *Manager) { m.counter = c }
}

// WithLogger sets the logger for background task outcomes.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// Manager runs background summarization over checkpoint threads.
//
// [Manager.MaybeSummarize] is called from within a turn but never blocks it:
// the trigger check and the summarization itself run in a goroutine with an
// independent context, so a summary lands regardless of how the triggering
// turn ends. At most one task runs per thread; triggers that arrive while
// one is in flight are coalesced.
type Manager struct {
	store      Store
	summarizer Summarizer
	counter    TokenCounter
	trigger    int
	log        *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewManager creates a summarization manager over store.
func NewManager(store Store, summarizer Summarizer, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		summarizer: summarizer,
		trigger:    defaultTriggerTokens,
		log:        slog.Default(),
		inflight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaybeSummarize schedules a summarization pass for threadID if its
// checkpoint has outgrown the trigger. Returns immediately; the check and
// the work happen in the background. A second call while a pass is running
// on the same thread is ignored.
func (m *Manager) MaybeSummarize(threadID string) {
	m.mu.Lock()
	if _, busy := m.inflight[threadID]; busy {
		m.mu.Unlock()
		return
	}
	m.inflight[threadID] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(threadID)
		m.run(threadID)
	}()
}

// Close waits for all in-flight summarization tasks to finish.
func (m *Manager) Close() error {
	m.wg.Wait()
	return nil
}

func (m *Manager) release(threadID string) {
	m.mu.Lock()
	delete(m.inflight, threadID)
	m.mu.Unlock()
}

// run performs one summarization pass. Failures log and leave the
// checkpoint unchanged; the next trigger retries.
func (m *Manager) run(threadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
	defer cancel()

	cp, err := m.store.Load(ctx, threadID)
	if err != nil {
		m.log.Warn("summarization load failed", "thread_id", threadID, "error", err)
		return
	}
	if cp == nil || cp.TokenCount <= m.trigger {
		return
	}

	// Snapshot the coverage point before the LLM call; messages appended
	// while summarizing stay in the tail of the next pass.
	upTo := len(cp.Messages)
	summary, err := m.summarizer.Summarize(ctx, cp.Summary, cp.Tail())
	if err != nil {
		m.log.Warn("summarization failed", "thread_id", threadID, "error", err)
		return
	}

	fresh, err := m.store.Load(ctx, threadID)
	if err != nil {
		m.log.Warn("summarization reload failed", "thread_id", threadID, "error", err)
		return
	}
	if fresh == nil {
		// Thread deleted while summarizing; nothing to update.
		return
	}

	fresh.Summary = summary
	fresh.SummaryUpTo = upTo
	if fresh.SummaryUpTo > len(fresh.Messages) {
		fresh.SummaryUpTo = len(fresh.Messages)
	}
	fresh.TokenCount = m.recount(fresh)

	if err := m.store.Save(ctx, fresh); err != nil {
		m.log.Warn("summarization save failed", "thread_id", threadID, "error", err)
		return
	}
	m.log.Debug("checkpoint summarized",
		"thread_id", threadID,
		"covered_messages", fresh.SummaryUpTo,
		"token_count", fresh.TokenCount,
	)
}

// recount measures the reconstructed context after a summary lands.
func (m *Manager) recount(cp *Checkpoint) int {
	if m.counter != nil {
		if n, err := m.counter.CountTokens(cp.ContextMessages()); err == nil {
			return n
		}
	}
	return estimateTokens(cp.Summary, cp.Tail())
}
