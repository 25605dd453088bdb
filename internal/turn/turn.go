// Package turn orchestrates a single conversational exchange: it routes
// input through the reflex or cognition path, drives the streaming
// LLM-to-speech pipeline, persists the finished exchange, and guarantees
// that each session has at most one turn emitting at a time.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/checkpoint"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/persona"
	"github.com/voxgate/voxgate/internal/pipeline"
	"github.com/voxgate/voxgate/internal/tools"
	"github.com/voxgate/voxgate/pkg/fault"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	"github.com/voxgate/voxgate/pkg/types"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024

	// maxToolRounds caps how many times a single turn may loop through
	// tool execution before the model is forced to answer in plain text.
	maxToolRounds = 2

	// terminalEmitGrace bounds how long a finished turn waits for a slow
	// consumer to take its terminal event before the event is dropped.
	terminalEmitGrace = 2 * time.Second

	// persistTimeout bounds checkpoint reads and writes.
	persistTimeout = 5 * time.Second
)

// Input is one inbound message to process.
type Input struct {
	// Text is the user's message.
	Text string

	// UserID identifies the speaker within the session.
	UserID string

	// Persona selects the agent persona; empty falls back to the default.
	Persona string

	// AgentScope isolates conversation history between agents sharing a
	// session. Empty means the session's sole agent.
	AgentScope string

	// ModeHint forces a dispatch path. PathCognition skips reflex matching;
	// empty lets the dispatcher decide.
	ModeHint types.Path

	// StreamAudio requests synthesized speech alongside text.
	StreamAudio bool

	// VoiceID overrides the persona's voice for this turn.
	VoiceID string

	// AudioFeatures carries prosody measurements when the input arrived as
	// speech. Nil for typed input.
	AudioFeatures *EmotionFeatures
}

// Orchestrator dispatches turns and serializes them per session.
type Orchestrator struct {
	llm        llm.Provider
	store      checkpoint.Store
	tts        tts.Provider
	tools      *tools.Host
	summarizer *checkpoint.Manager
	personas   *persona.Library
	reflex     *ReflexMatcher
	emotion    *EmotionDetector
	log        *slog.Logger
	metrics    *observe.Metrics

	model        string
	temperature  float64
	maxTokens    int
	defaultVoice string

	mu     sync.Mutex
	active map[string]*turnHandle
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTTS enables speech synthesis for turns that request audio.
func WithTTS(p tts.Provider) Option {
	return func(o *Orchestrator) { o.tts = p }
}

// WithTools exposes the host's tools to the model during cognition turns.
func WithTools(h *tools.Host) Option {
	return func(o *Orchestrator) { o.tools = h }
}

// WithSummarizer enables background history compaction after each turn.
func WithSummarizer(m *checkpoint.Manager) Option {
	return func(o *Orchestrator) { o.summarizer = m }
}

// WithPersonas sets the persona library used to resolve system prompts.
func WithPersonas(lib *persona.Library) Option {
	return func(o *Orchestrator) { o.personas = lib }
}

// WithReflex replaces the default reflex matcher.
func WithReflex(m *ReflexMatcher) Option {
	return func(o *Orchestrator) { o.reflex = m }
}

// WithModel records the model identifier reported in turn metadata.
func WithModel(model string) Option {
	return func(o *Orchestrator) { o.model = model }
}

// WithTemperature sets the sampling temperature for completions.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithDefaultVoice sets the voice used when neither the input nor the
// persona names one.
func WithDefaultVoice(id string) Option {
	return func(o *Orchestrator) { o.defaultVoice = id }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics enables turn, tool, and latency instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New builds an Orchestrator around the given completion provider and
// checkpoint store.
func New(provider llm.Provider, store checkpoint.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:         provider,
		store:       store,
		reflex:      NewReflexMatcher(),
		emotion:     NewEmotionDetector(),
		log:         slog.Default(),
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		active:      make(map[string]*turnHandle),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.personas == nil {
		o.personas, _ = persona.NewLibrary()
	}
	return o
}

// turnHandle tracks one in-flight turn so a successor can preempt it and
// wait for it to unwind.
type turnHandle struct {
	turnID string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	reason string
}

// interrupt cancels the turn. The first caller's reason wins.
func (h *turnHandle) interrupt(reason string) {
	h.mu.Lock()
	if h.reason == "" {
		h.reason = reason
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *turnHandle) interruptReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reason == "" {
		return ReasonCancelled
	}
	return h.reason
}

// Process starts a turn for sessionID and returns its event stream. Any
// turn already running on the session is interrupted; the new turn does
// not emit until the old one has fully unwound. The stream is closed after
// its terminal event.
func (o *Orchestrator) Process(ctx context.Context, sessionID string, input Input) (*Stream, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fault.Errorf(fault.KindInputValidation, "turn: process", "session id must not be empty")
	}
	if strings.TrimSpace(input.Text) == "" {
		return nil, fault.Errorf(fault.KindInputValidation, "turn: process", "message must not be empty")
	}

	turnID := uuid.NewString()
	turnCtx, cancel := context.WithCancel(ctx)
	h := &turnHandle{turnID: turnID, cancel: cancel, done: make(chan struct{})}
	s := newStream(turnID)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, fault.Errorf(fault.KindInternal, "turn: process", "orchestrator is closed")
	}
	prev := o.active[sessionID]
	o.active[sessionID] = h
	o.wg.Add(1)
	o.mu.Unlock()

	if prev != nil {
		prev.interrupt(ReasonNewMessage)
	}
	go o.run(turnCtx, h, prev, s, sessionID, input)
	return s, nil
}

// Interrupt cancels the session's active turn, if any. It reports whether
// a turn was found.
func (o *Orchestrator) Interrupt(sessionID string) bool {
	o.mu.Lock()
	h := o.active[sessionID]
	o.mu.Unlock()
	if h == nil {
		return false
	}
	h.interrupt(ReasonCancelled)
	return true
}

// Close interrupts every active turn and waits for all of them to unwind.
// Subsequent Process calls fail.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	handles := make([]*turnHandle, 0, len(o.active))
	for _, h := range o.active {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		h.interrupt(ReasonCancelled)
	}
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, h, prev *turnHandle, s *Stream, sessionID string, input Input) {
	defer o.wg.Done()
	defer close(h.done)
	defer s.close()
	defer o.release(sessionID, h)

	// The predecessor may still be flushing its interrupted notice. Wait
	// for it so this turn's first event never races ahead of it.
	if prev != nil {
		<-prev.done
	}

	if o.metrics != nil {
		o.metrics.ActiveTurns.Add(ctx, 1)
		defer o.metrics.ActiveTurns.Add(context.Background(), -1)
	}

	started := time.Now()
	if input.ModeHint != types.PathCognition {
		if reply, ok := o.reflex.Match(input.Text); ok {
			o.serveReflex(ctx, h, s, input, reply, started)
			return
		}
	}
	o.serveCognition(ctx, h, s, sessionID, input, started)
}

func (o *Orchestrator) release(sessionID string, h *turnHandle) {
	o.mu.Lock()
	if o.active[sessionID] == h {
		delete(o.active, sessionID)
	}
	o.mu.Unlock()
}

// serveReflex answers from the canned reply table. The whole reply is known
// upfront, so it goes out as one final text chunk; audio, when requested,
// streams from a single synthesis call followed by a final marker.
func (o *Orchestrator) serveReflex(ctx context.Context, h *turnHandle, s *Stream, input Input, reply string, started time.Time) {
	o.recordFirstToken(ctx, started)
	chunk := types.TextChunk{TurnID: s.TurnID(), SequenceIndex: 1, Text: reply, Final: true}
	if err := s.emit(ctx, Event{Type: EventText, Text: &chunk}); err != nil {
		o.emitInterrupted(h, s, 0, 0)
		o.recordTurn(types.PathReflex, types.EmotionNeutral, "interrupted", started)
		return
	}

	if input.StreamAudio && o.tts != nil {
		if !o.speakReflex(ctx, h, s, input, reply) {
			o.recordTurn(types.PathReflex, types.EmotionNeutral, "interrupted", started)
			return
		}
	}
	s.emit(ctx, Event{Type: EventComplete})
	o.recordTurn(types.PathReflex, types.EmotionNeutral, "complete", started)
}

// speakReflex synthesizes the canned reply. Reports false when the turn was
// interrupted mid-stream; audio provider failures only emit an error frame,
// text already completed.
func (o *Orchestrator) speakReflex(ctx context.Context, h *turnHandle, s *Stream, input Input, reply string) bool {
	pers := o.personas.Resolve(input.Persona)
	voice := tts.VoiceProfile{ID: o.resolveVoice(input, pers)}
	frames, err := o.tts.Synthesize(ctx, reply, voice)
	if err != nil {
		s.emitTimed(Event{Type: EventError, Err: fault.New(fault.KindProviderTransient, "turn: synthesize audio", err)}, terminalEmitGrace)
		return true
	}

	idx := 0
	for payload := range frames {
		if len(payload) == 0 {
			continue
		}
		idx++
		f := types.AudioFrame{TurnID: s.TurnID(), SequenceIndex: idx, Payload: payload}
		if err := s.emit(ctx, Event{Type: EventAudio, Audio: &f}); err != nil {
			go func() {
				for range frames {
				}
			}()
			o.emitInterrupted(h, s, 1, idx)
			return false
		}
	}
	final := types.AudioFrame{TurnID: s.TurnID(), SequenceIndex: idx + 1, Final: true}
	if err := s.emit(ctx, Event{Type: EventAudio, Audio: &final}); err != nil {
		o.emitInterrupted(h, s, 1, idx)
		return false
	}
	return true
}

func (o *Orchestrator) serveCognition(ctx context.Context, h *turnHandle, s *Stream, sessionID string, input Input, started time.Time) {
	emotion := o.emotion.Detect(input.Text, input.AudioFeatures)
	pers := o.personas.Resolve(input.Persona)
	threadID := checkpoint.ThreadID(sessionID, input.UserID, input.AgentScope)

	convo, err := o.loadContext(ctx, threadID)
	if err != nil {
		o.failTurn(s, fault.New(fault.KindBackendUnavailable, "turn: load checkpoint", err))
		o.recordTurn(types.PathCognition, emotion, "error", started)
		return
	}
	convo = append(convo, types.Message{Role: "user", Content: input.Text})

	req := llm.CompletionRequest{
		Messages:     convo,
		SystemPrompt: pers.Prompt(),
		Temperature:  o.temperature,
		MaxTokens:    o.maxTokens,
	}
	if o.tools != nil {
		req.Tools = o.tools.Definitions()
	}

	pl := o.newPipeline(s, input, pers, started)
	pl.Start(ctx)

	toolCalls := 0
	for round := 0; ; round++ {
		chunks, err := o.llm.StreamCompletion(ctx, req)
		if err != nil {
			res := pl.Abort()
			if ctx.Err() != nil {
				o.persistTurn(threadID, input.Text, res.Text)
				o.emitInterrupted(h, s, res.LastText, res.LastAudio)
				o.recordTurn(types.PathCognition, emotion, "interrupted", started)
				return
			}
			o.failTurn(s, classifyProvider("turn: stream completion", err))
			o.recordTurn(types.PathCognition, emotion, "error", started)
			return
		}

		result, err := pl.Consume(ctx, chunks)
		if err != nil {
			res := pl.Abort()
			o.persistTurn(threadID, input.Text, res.Text)
			o.emitInterrupted(h, s, res.LastText, res.LastAudio)
			o.recordTurn(types.PathCognition, emotion, "interrupted", started)
			return
		}
		if result.FinishReason == llm.FinishError {
			pl.Abort()
			detail := result.ErrText
			if detail == "" {
				detail = "provider stream failed mid-turn"
			}
			o.failTurn(s, fault.Errorf(fault.KindProviderTransient, "turn: stream completion", "%s", detail))
			o.recordTurn(types.PathCognition, emotion, "error", started)
			return
		}

		if result.FinishReason != llm.FinishToolCalls || len(result.ToolCalls) == 0 || o.tools == nil || round >= maxToolRounds {
			break
		}
		toolCalls += len(result.ToolCalls)
		req.Messages = append(req.Messages,
			types.Message{Role: "assistant", ToolCalls: result.ToolCalls})
		req.Messages = append(req.Messages, o.executeToolCalls(ctx, result.ToolCalls)...)
		if round+1 >= maxToolRounds {
			// Withdraw the tools so the next response must be the answer.
			req.Tools = nil
		}
	}

	res, err := pl.Finish(ctx)
	if err != nil {
		o.persistTurn(threadID, input.Text, res.Text)
		o.emitInterrupted(h, s, res.LastText, res.LastAudio)
		o.recordTurn(types.PathCognition, emotion, "interrupted", started)
		return
	}

	o.persistTurn(threadID, input.Text, res.Text)
	if o.summarizer != nil {
		o.summarizer.MaybeSummarize(threadID)
	}

	meta := &Metadata{
		TurnID:      s.TurnID(),
		Path:        types.PathCognition,
		Emotion:     emotion,
		Model:       o.model,
		TokenCount:  o.countTokens(res.Text),
		Duration:    time.Since(started),
		TextChunks:  res.LastText,
		AudioFrames: res.LastAudio,
		ToolCalls:   toolCalls,
	}
	if err := s.emit(ctx, Event{Type: EventMetadata, Metadata: meta}); err != nil {
		o.recordTurn(types.PathCognition, emotion, "interrupted", started)
		return
	}
	s.emit(ctx, Event{Type: EventComplete})
	o.recordTurn(types.PathCognition, emotion, "complete", started)
}

// loadContext fetches the thread's checkpoint and renders it as completion
// context. A missing checkpoint yields an empty slate.
func (o *Orchestrator) loadContext(ctx context.Context, threadID string) ([]types.Message, error) {
	lctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	cp, err := o.store.Load(lctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	return cp.ContextMessages(), nil
}

// persistTurn appends the exchange to the thread's history. It runs on a
// fresh context so a cancelled turn still records what was said; partial
// replies from interrupted turns are kept.
func (o *Orchestrator) persistTurn(threadID, userText, assistantText string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	now := time.Now().UTC()
	if err := o.store.Append(ctx, threadID, checkpoint.Message{Role: "user", Content: userText, Timestamp: now}); err != nil {
		o.log.Warn("failed to persist user message", slog.String("thread_id", threadID), slog.String("error", err.Error()))
		return
	}
	if assistantText == "" {
		return
	}
	if err := o.store.Append(ctx, threadID, checkpoint.Message{Role: "assistant", Content: assistantText, Timestamp: time.Now().UTC()}); err != nil {
		o.log.Warn("failed to persist assistant message", slog.String("thread_id", threadID), slog.String("error", err.Error()))
	}
}

// executeToolCalls runs each requested tool and renders the results as
// tool-role messages. Failures are reported back to the model as text so
// it can recover or apologize.
func (o *Orchestrator) executeToolCalls(ctx context.Context, calls []types.ToolCall) []types.Message {
	msgs := make([]types.Message, 0, len(calls))
	for _, call := range calls {
		result, err := o.tools.Execute(ctx, call.Name, call.Arguments)
		status := "ok"
		if err != nil {
			status = "error"
			o.log.Warn("tool call failed",
				slog.String("tool", call.Name),
				slog.String("error", err.Error()))
			result = fmt.Sprintf("tool %s failed: %v", call.Name, err)
		}
		if o.metrics != nil {
			o.metrics.RecordToolCall(ctx, call.Name, status)
		}
		msgs = append(msgs, types.Message{
			Role:       "tool",
			Content:    result,
			Name:       call.Name,
			ToolCallID: call.ID,
		})
	}
	return msgs
}

func (o *Orchestrator) newPipeline(s *Stream, input Input, pers persona.Persona, started time.Time) *pipeline.Pipeline {
	opts := []pipeline.Option{pipeline.WithLogger(o.log)}
	if input.StreamAudio && o.tts != nil {
		opts = append(opts, pipeline.WithTTS(o.tts, tts.VoiceProfile{ID: o.resolveVoice(input, pers)}))
	}
	if o.metrics != nil {
		opts = append(opts, pipeline.WithMetrics(o.metrics))
	}
	sink := &streamSink{s: s, metrics: o.metrics, started: started}
	return pipeline.New(s.TurnID(), sink, opts...)
}

// resolveVoice picks the synthesis voice: explicit request, then persona,
// then the configured default.
func (o *Orchestrator) resolveVoice(input Input, pers persona.Persona) string {
	if input.VoiceID != "" {
		return input.VoiceID
	}
	if pers.VoiceID != "" {
		return pers.VoiceID
	}
	return o.defaultVoice
}

func (o *Orchestrator) emitInterrupted(h *turnHandle, s *Stream, atText, atAudio int) {
	ev := Event{Type: EventInterrupted, Interrupted: &Interrupted{
		TurnID:  s.TurnID(),
		Reason:  h.interruptReason(),
		AtText:  atText,
		AtAudio: atAudio,
	}}
	if !s.emitTimed(ev, terminalEmitGrace) {
		o.log.Warn("dropped interrupted notice", slog.String("turn_id", s.TurnID()))
	}
	if o.metrics != nil {
		o.metrics.RecordInterruption(context.Background())
	}
}

// recordTurn samples the turn counter and duration histogram. Runs on a
// background context because several call sites sit past cancellation.
func (o *Orchestrator) recordTurn(path types.Path, emotion types.Emotion, status string, started time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordTurn(context.Background(), string(path), string(emotion), status, time.Since(started))
}

func (o *Orchestrator) recordFirstToken(ctx context.Context, started time.Time) {
	if o.metrics != nil {
		o.metrics.FirstTokenLatency.Record(ctx, time.Since(started).Seconds())
	}
}

func (o *Orchestrator) failTurn(s *Stream, err error) {
	o.log.Error("turn failed", slog.String("turn_id", s.TurnID()), slog.String("error", err.Error()))
	if !s.emitTimed(Event{Type: EventError, Err: err}, terminalEmitGrace) {
		o.log.Warn("dropped turn failure notice", slog.String("turn_id", s.TurnID()))
	}
}

func (o *Orchestrator) countTokens(text string) int {
	n, err := o.llm.CountTokens([]types.Message{{Role: "assistant", Content: text}})
	if err != nil || n <= 0 {
		// Rough character heuristic when the provider cannot count.
		return len(text) / 4
	}
	return n
}

// classifyProvider wraps unclassified provider errors as transient so
// callers retry rather than give up. Already-classified faults pass
// through untouched.
func classifyProvider(op string, err error) error {
	if fault.KindOf(err) != fault.KindInternal {
		return err
	}
	return fault.New(fault.KindProviderTransient, op, err)
}

// streamSink feeds pipeline output into the turn's event stream. It also
// samples first-token latency: SendText is only ever called from the
// pipeline's producer goroutine, so the firstSent flag needs no lock.
type streamSink struct {
	s         *Stream
	metrics   *observe.Metrics
	started   time.Time
	firstSent bool
}

var _ pipeline.Sink = (*streamSink)(nil)

func (k *streamSink) SendText(ctx context.Context, c types.TextChunk) error {
	if !k.firstSent {
		k.firstSent = true
		if k.metrics != nil {
			k.metrics.FirstTokenLatency.Record(ctx, time.Since(k.started).Seconds())
		}
	}
	return k.s.emit(ctx, Event{Type: EventText, Text: &c})
}

func (k *streamSink) SendAudio(ctx context.Context, f types.AudioFrame) error {
	return k.s.emit(ctx, Event{Type: EventAudio, Audio: &f})
}

func (k *streamSink) AudioFailed(err error) {
	k.s.emitTimed(Event{Type: EventError, Err: fault.New(fault.KindProviderTransient, "turn: synthesize audio", err)}, terminalEmitGrace)
}
