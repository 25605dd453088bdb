// Package pipeline implements the streaming text-to-speech pipeline that
// turns an LLM token stream into ordered text chunks and audio frames.
//
// # Topology
//
//	LLM chunks ──► Consume ──► TextChunk per chunk (sink)
//	                  │
//	                  └─► SentenceBuffer ──► bounded queue ──► TTS worker ──► AudioFrame (sink)
//
// One Pipeline serves exactly one turn. The producer side (Consume, Finish,
// Abort) must be driven from a single goroutine; the TTS worker runs in its
// own goroutine started by Start. The bounded sentence queue is the only
// back-pressure point: when the worker falls behind, the producer blocks on
// enqueue, which in turn stops it from reading LLM chunks.
//
// Sequence indices are per modality and strictly increasing, starting at 1.
// A completed modality ends with an empty Final marker at lastContent+1. An
// interrupted turn emits no Final markers; the caller reports the last
// content indices instead.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/types"
)

const (
	// defaultQueueCapacity bounds the sentence queue between producer and TTS
	// worker. Eight sentences absorb a chatty model without letting synthesis
	// lag grow unbounded.
	defaultQueueCapacity = 8

	// defaultMinFrameBytes is the coalescing threshold for audio frames.
	// Providers that stream tiny chunks are batched up to this size so the
	// transport is not flooded with minimal frames.
	defaultMinFrameBytes = 1024

	// defaultSentenceTimeout caps one Synthesize call including the full read
	// of its audio stream.
	defaultSentenceTimeout = 15 * time.Second
)

// Sink receives the ordered emissions of one turn. Implementations decide
// delivery semantics (typically a buffered event channel); Send errors are
// treated as a lost consumer and end the turn. AudioFailed reports that
// synthesis died mid-turn; the text side keeps going.
type Sink interface {
	SendText(ctx context.Context, chunk types.TextChunk) error
	SendAudio(ctx context.Context, frame types.AudioFrame) error
	AudioFailed(err error)
}

// Round reports the outcome of one Consume pass over an LLM stream.
type Round struct {
	// ToolCalls accumulates tool invocations requested during the round.
	// Non-empty with FinishReason "tool_calls".
	ToolCalls []types.ToolCall

	// FinishReason is the reason the stream ended: "stop", "length",
	// "tool_calls", "error", or "" when the channel closed without one.
	FinishReason string

	// ErrText is the provider's diagnostic when FinishReason is "error".
	// It is never forwarded to the sink.
	ErrText string
}

// Result reports what a completed or aborted turn emitted.
type Result struct {
	// Text is the full assistant text accumulated across all rounds.
	Text string

	// LastText and LastAudio are the highest content sequence indices emitted
	// per modality, excluding Final markers. Zero means the modality never
	// emitted.
	LastText  int
	LastAudio int

	// Interrupted is set when the turn was aborted mid-stream.
	Interrupted bool

	// AudioErr is the synthesis failure that ended the audio side early, if
	// any. Text delivery is unaffected by it.
	AudioErr error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTTS enables audio synthesis with the given provider and voice. Without
// it the pipeline runs text-only.
func WithTTS(p tts.Provider, voice tts.VoiceProfile) Option {
	return func(pl *Pipeline) {
		pl.tts = p
		pl.voice = voice
	}
}

// WithQueueCapacity overrides the sentence queue depth.
func WithQueueCapacity(n int) Option {
	return func(pl *Pipeline) {
		if n > 0 {
			pl.queueCap = n
		}
	}
}

// WithMinFrameBytes overrides the audio coalescing threshold.
func WithMinFrameBytes(n int) Option {
	return func(pl *Pipeline) {
		if n > 0 {
			pl.minFrameBytes = n
		}
	}
}

// WithSentenceTimeout overrides the per-sentence synthesis timeout.
func WithSentenceTimeout(d time.Duration) Option {
	return func(pl *Pipeline) {
		if d > 0 {
			pl.sentenceTimeout = d
		}
	}
}

// WithLogger sets the logger for worker diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(pl *Pipeline) {
		if log != nil {
			pl.log = log
		}
	}
}

// WithMetrics enables queue-depth and synthesis-latency instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) {
		pl.metrics = m
	}
}

// Pipeline drives one turn's streaming emission. Construct with New, call
// Start once, then Consume for each LLM round, and exactly one of Finish or
// Abort to terminate.
type Pipeline struct {
	turnID  string
	sink    Sink
	log     *slog.Logger
	metrics *observe.Metrics

	tts   tts.Provider
	voice tts.VoiceProfile

	queueCap        int
	minFrameBytes   int
	sentenceTimeout time.Duration

	buf     SentenceBuffer
	text    strings.Builder
	textIdx int

	queue       chan string
	queueClosed bool
	normalClose bool
	started     bool
	workerWG    sync.WaitGroup

	// Worker-owned; read by the producer goroutine only after workerWG.Wait.
	audioIdx int
	audioErr error
}

// New creates a pipeline for one turn. The sink must be non-nil.
func New(turnID string, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		turnID:          turnID,
		sink:            sink,
		log:             slog.Default(),
		queueCap:        defaultQueueCapacity,
		minFrameBytes:   defaultMinFrameBytes,
		sentenceTimeout: defaultSentenceTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the TTS worker when audio is enabled. It must be called
// once, before the first Consume.
func (p *Pipeline) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	if p.tts == nil {
		return
	}
	p.queue = make(chan string, p.queueCap)
	p.workerWG.Add(1)
	go p.worker(ctx)
}

// Consume reads one LLM stream to its end: each text chunk is forwarded to
// the sink and fed through the sentence buffer into the synthesis queue.
// It returns when the stream finishes, reporting accumulated tool calls and
// the finish reason, or with an error when the context is cancelled or the
// sink rejects a send. On error the remaining chunks are drained in the
// background so the provider goroutine never leaks.
func (p *Pipeline) Consume(ctx context.Context, chunks <-chan llm.Chunk) (*Round, error) {
	var round Round
	for {
		select {
		case <-ctx.Done():
			go drainChunks(chunks)
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return &round, nil
			}
			if chunk.FinishReason == llm.FinishError {
				// The text of an error chunk is the provider's diagnostic,
				// not reply content.
				round.FinishReason = chunk.FinishReason
				round.ErrText = chunk.Text
				go drainChunks(chunks)
				return &round, nil
			}
			if chunk.Text != "" {
				p.text.WriteString(chunk.Text)
				p.textIdx++
				tc := types.TextChunk{TurnID: p.turnID, SequenceIndex: p.textIdx, Text: chunk.Text}
				if err := p.sink.SendText(ctx, tc); err != nil {
					go drainChunks(chunks)
					return nil, fmt.Errorf("pipeline: send text: %w", err)
				}
				if sentence, full := p.buf.Append(chunk.Text); full {
					if err := p.enqueue(ctx, sentence); err != nil {
						go drainChunks(chunks)
						return nil, err
					}
				}
			}
			if len(chunk.ToolCalls) > 0 {
				round.ToolCalls = append(round.ToolCalls, chunk.ToolCalls...)
			}
			if chunk.FinishReason != "" {
				round.FinishReason = chunk.FinishReason
				go drainChunks(chunks)
				return &round, nil
			}
		}
	}
}

// Finish completes the turn: flushes the sentence residue, emits the Final
// text marker, closes the queue, and waits for the worker to emit its last
// frames and the Final audio marker. The returned Result covers all rounds.
func (p *Pipeline) Finish(ctx context.Context) (*Result, error) {
	if s, ok := p.buf.Flush(); ok {
		if err := p.enqueue(ctx, s); err != nil {
			p.closeQueue()
			p.workerWG.Wait()
			p.drainQueueGauge()
			return p.result(true), err
		}
	}
	final := types.TextChunk{TurnID: p.turnID, SequenceIndex: p.textIdx + 1, Final: true}
	if err := p.sink.SendText(ctx, final); err != nil {
		p.closeQueue()
		p.workerWG.Wait()
		p.drainQueueGauge()
		return p.result(true), fmt.Errorf("pipeline: send final text: %w", err)
	}
	p.normalClose = true
	p.closeQueue()
	p.workerWG.Wait()
	p.drainQueueGauge()
	return p.result(false), nil
}

// Abort hard-stops the turn after cancellation: pending sentences are
// discarded, the worker flushes bytes it already holds, and no Final markers
// are emitted. The Result carries the last content indices for the
// interruption notice. Safe to call after a failed Finish.
func (p *Pipeline) Abort() *Result {
	p.closeQueue()
	p.workerWG.Wait()
	p.drainQueueGauge()
	return p.result(true)
}

func (p *Pipeline) result(interrupted bool) *Result {
	return &Result{
		Text:        p.text.String(),
		LastText:    p.textIdx,
		LastAudio:   p.audioIdx,
		Interrupted: interrupted,
		AudioErr:    p.audioErr,
	}
}

func (p *Pipeline) enqueue(ctx context.Context, sentence string) error {
	if p.queue == nil {
		return nil
	}
	select {
	case p.queue <- sentence:
		p.queueGauge(ctx, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) closeQueue() {
	if p.queue == nil || p.queueClosed {
		return
	}
	p.queueClosed = true
	close(p.queue)
}

// drainQueueGauge settles the queue-depth gauge for sentences the worker
// never consumed. Called after the worker exits; the queue is closed by then,
// so the loop terminates.
func (p *Pipeline) drainQueueGauge() {
	if p.queue == nil {
		return
	}
	for range p.queue {
		p.queueGauge(context.Background(), -1)
	}
}

func (p *Pipeline) queueGauge(ctx context.Context, delta int64) {
	if p.metrics != nil {
		p.metrics.SentenceQueueDepth.Add(ctx, delta)
	}
}

// ─── TTS worker ───────────────────────────────────────────────────────────────

func (p *Pipeline) worker(ctx context.Context) {
	defer p.workerWG.Done()
	for {
		// Re-check between sentences so a cancelled turn never starts new
		// synthesis even when the queue arm of the select keeps winning.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case sentence, ok := <-p.queue:
			if !ok {
				if p.normalClose && p.audioErr == nil {
					p.emitFrame(ctx, nil, true)
				}
				return
			}
			p.queueGauge(ctx, -1)
			if p.audioErr != nil {
				continue // audio is dead; keep draining so the producer never blocks
			}
			p.synthesize(ctx, sentence)
		}
	}
}

// synthesize renders one sentence and emits its audio frames, coalescing
// small provider chunks up to minFrameBytes. Buffered bytes are flushed at
// sentence end regardless of size, so frame boundaries never span sentences.
func (p *Pipeline) synthesize(ctx context.Context, sentence string) {
	spoken := StripForSpeech(sentence)
	if spoken == "" {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, p.sentenceTimeout)
	defer cancel()

	if p.metrics != nil {
		start := time.Now()
		defer func() {
			p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	audio, err := p.tts.Synthesize(sctx, spoken, p.voice)
	if err != nil {
		p.failAudio(fmt.Errorf("pipeline: synthesize: %w", err))
		return
	}
	var pending []byte
	for {
		select {
		case <-sctx.Done():
			p.flushPending(ctx, pending)
			if ctx.Err() == nil {
				p.failAudio(fmt.Errorf("pipeline: synthesize %q: %w", spoken, sctx.Err()))
			}
			return
		case b, ok := <-audio:
			if !ok {
				p.flushPending(ctx, pending)
				return
			}
			pending = append(pending, b...)
			if len(pending) >= p.minFrameBytes {
				if !p.emitFrame(ctx, pending, false) {
					return
				}
				pending = nil
			}
		}
	}
}

func (p *Pipeline) flushPending(ctx context.Context, pending []byte) {
	if len(pending) > 0 {
		p.emitFrame(ctx, pending, false)
	}
}

// emitFrame sends one audio frame and reports whether the audio side is
// still healthy. Frames emitted during cancellation unwind are sent on a
// detached context so already-synthesized bytes are not lost.
func (p *Pipeline) emitFrame(ctx context.Context, payload []byte, final bool) bool {
	sendCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
	}
	frame := types.AudioFrame{TurnID: p.turnID, SequenceIndex: p.audioIdx + 1, Payload: payload, Final: final}
	if err := p.sink.SendAudio(sendCtx, frame); err != nil {
		if p.audioErr == nil {
			p.audioErr = fmt.Errorf("pipeline: send audio: %w", err)
		}
		return false
	}
	if !final {
		p.audioIdx++
	}
	return true
}

func (p *Pipeline) failAudio(err error) {
	p.audioErr = err
	p.log.Warn("audio synthesis failed, continuing text-only",
		slog.String("turn_id", p.turnID),
		slog.String("error", err.Error()))
	p.sink.AudioFailed(err)
}

func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
