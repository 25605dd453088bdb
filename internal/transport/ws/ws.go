// Package ws is the WebSocket chat surface. One connection carries many
// turns: ping/pong keepalives, chat_request inbound, and the streamed
// text/audio/metadata frames outbound. A single writer goroutine owns the
// socket; turn streams are forwarded strictly in submission order so an
// interrupted notice always precedes the successor's first chunk.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/internal/turn"
	"github.com/voxgate/voxgate/pkg/fault"
)

const (
	// ChannelName is the channel component of session keys minted here.
	ChannelName = "websocket"

	// outboundBuffer absorbs bursts between the turn stream and the socket
	// writer.
	outboundBuffer = 64

	// readLimit caps one inbound message.
	readLimit = 256 << 10
)

// Sessions resolves the session for a connection's (tenant, user) pair.
type Sessions interface {
	GetOrCreate(ctx context.Context, key session.Key) (*session.Session, error)
}

// Turns starts conversation turns. Implemented by turn.Orchestrator.
type Turns interface {
	Process(ctx context.Context, sessionID string, input turn.Input) (*turn.Stream, error)
}

// Handler upgrades chat connections and bridges the wire protocol to the
// orchestrator.
type Handler struct {
	sessions Sessions
	turns    Turns
	log      *slog.Logger
	now      func() time.Time
	origins  []string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithClock overrides the pong timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithOriginPatterns authorizes browser origins for the upgrade handshake.
// Unset keeps the library's same-origin default.
func WithOriginPatterns(patterns []string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// NewHandler builds the chat surface.
func NewHandler(sessions Sessions, turns Turns, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		turns:    turns,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ─────────────────────────────────────────────────────────────────────────────
// Wire shapes
// ─────────────────────────────────────────────────────────────────────────────

type inboundMessage struct {
	Type          string         `json:"type"`
	UserID        string         `json:"user_id"`
	Message       string         `json:"message"`
	Configuration map[string]any `json:"configuration"`
	Context       map[string]any `json:"context"`
	StreamAudio   bool           `json:"stream_audio"`
	VoiceID       string         `json:"voice_id"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type textChunkFrame struct {
	Type       string `json:"type"`
	Chunk      string `json:"chunk"`
	ChunkIndex int    `json:"chunk_index"`
	IsFinal    bool   `json:"is_final"`
}

type audioChunkFrame struct {
	Type       string `json:"type"`
	Data       string `json:"data"`
	ChunkIndex int    `json:"chunk_index"`
	IsFinal    bool   `json:"is_final"`
	SizeBytes  int    `json:"size_bytes"`
}

type metadataFrame struct {
	Type            string `json:"type"`
	TurnID          string `json:"turn_id"`
	Model           string `json:"model"`
	TotalTokens     int    `json:"total_tokens"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	TextChunks      int    `json:"text_chunks"`
	AudioChunks     int    `json:"audio_chunks"`
	ToolCalls       int    `json:"tool_calls"`
	Emotion         string `json:"emotion"`
	Path            string `json:"path"`
}

type completeFrame struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type interruptedFrame struct {
	Type                    string `json:"type"`
	Reason                  string `json:"reason"`
	InterruptedAtTextChunk  int    `json:"interrupted_at_text_chunk"`
	InterruptedAtAudioChunk int    `json:"interrupted_at_audio_chunk"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// ServeHTTP implements http.Handler. The tenant rides the `tenant` query
// parameter and defaults to "default".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var acceptOpts *websocket.AcceptOptions
	if len(h.origins) > 0 {
		acceptOpts = &websocket.AcceptOptions{OriginPatterns: h.origins}
	}
	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		h.log.Debug("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		tenant = "default"
	}
	h.serve(r.Context(), conn, tenant)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, tenant string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan []byte, outboundBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		dead := false
		for data := range out {
			if dead {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				// Keep draining so senders never block on a dead socket.
				dead = true
				cancel()
			}
		}
	}()

	var turnWG sync.WaitGroup
	var prevForward chan struct{}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(ctx, out, fault.KindInputValidation, "malformed JSON message")
			continue
		}
		switch msg.Type {
		case "ping":
			h.send(ctx, out, pongFrame{Type: "pong", Timestamp: h.now().UTC().Format(time.RFC3339)})
		case "chat_request":
			prevForward = h.startTurn(ctx, tenant, msg, out, &turnWG, prevForward)
		default:
			h.sendError(ctx, out, fault.KindInputValidation, fmt.Sprintf("unknown message type %q", msg.Type))
		}
	}

	cancel()
	turnWG.Wait()
	close(out)
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "")
}

// startTurn validates and launches one turn, returning the forward handle
// the next turn must wait on. Failures leave the previous handle in place.
func (h *Handler) startTurn(ctx context.Context, tenant string, msg inboundMessage, out chan<- []byte, wg *sync.WaitGroup, prev chan struct{}) chan struct{} {
	if strings.TrimSpace(msg.UserID) == "" {
		h.sendError(ctx, out, fault.KindInputValidation, "chat_request requires user_id")
		return prev
	}
	if strings.TrimSpace(msg.Message) == "" {
		h.sendError(ctx, out, fault.KindInputValidation, "chat_request requires message")
		return prev
	}

	key := session.Key{Tenant: tenant, Channel: ChannelName, UserExternalID: msg.UserID}
	sess, err := h.sessions.GetOrCreate(ctx, key)
	if err != nil {
		h.log.Error("session lookup failed", "tenant", tenant, "user", msg.UserID, "error", err)
		h.sendError(ctx, out, fault.KindBackendUnavailable, "session backend unavailable")
		return prev
	}

	input := turn.Input{
		Text:        msg.Message,
		UserID:      msg.UserID,
		Persona:     sess.AgentID,
		StreamAudio: msg.StreamAudio,
		VoiceID:     msg.VoiceID,
	}
	if p := stringField(msg.Context, "persona"); p != "" {
		input.Persona = p
	}
	if scope := stringField(msg.Context, "agent_scope"); scope != "" {
		input.AgentScope = scope
	}

	stream, err := h.turns.Process(ctx, sess.ID, input)
	if err != nil {
		h.sendError(ctx, out, fault.KindOf(err), err.Error())
		return prev
	}

	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		h.forward(ctx, stream, out)
	}()
	return done
}

// forward translates one turn's events into wire frames.
func (h *Handler) forward(ctx context.Context, stream *turn.Stream, out chan<- []byte) {
	for e := range stream.Events() {
		switch e.Type {
		case turn.EventText:
			h.send(ctx, out, textChunkFrame{
				Type:       "text_chunk",
				Chunk:      e.Text.Text,
				ChunkIndex: e.Text.SequenceIndex,
				IsFinal:    e.Text.Final,
			})
		case turn.EventAudio:
			h.send(ctx, out, audioChunkFrame{
				Type:       "audio_chunk",
				Data:       base64.StdEncoding.EncodeToString(e.Audio.Payload),
				ChunkIndex: e.Audio.SequenceIndex,
				IsFinal:    e.Audio.Final,
				SizeBytes:  len(e.Audio.Payload),
			})
		case turn.EventMetadata:
			h.send(ctx, out, metadataFrame{
				Type:            "metadata",
				TurnID:          e.Metadata.TurnID,
				Model:           e.Metadata.Model,
				TotalTokens:     e.Metadata.TokenCount,
				ExecutionTimeMS: e.Metadata.Duration.Milliseconds(),
				TextChunks:      e.Metadata.TextChunks,
				AudioChunks:     e.Metadata.AudioFrames,
				ToolCalls:       e.Metadata.ToolCalls,
				Emotion:         string(e.Metadata.Emotion),
				Path:            string(e.Metadata.Path),
			})
		case turn.EventError:
			h.sendError(ctx, out, fault.KindOf(e.Err), e.Err.Error())
		case turn.EventInterrupted:
			h.send(ctx, out, interruptedFrame{
				Type:                    "interrupted",
				Reason:                  e.Interrupted.Reason,
				InterruptedAtTextChunk:  e.Interrupted.AtText,
				InterruptedAtAudioChunk: e.Interrupted.AtAudio,
			})
		case turn.EventComplete:
			h.send(ctx, out, completeFrame{Type: "complete"})
		}
	}
}

func (h *Handler) send(ctx context.Context, out chan<- []byte, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode frame", "error", err)
		return
	}
	select {
	case out <- data:
	case <-ctx.Done():
	}
}

func (h *Handler) sendError(ctx context.Context, out chan<- []byte, kind fault.Kind, message string) {
	h.send(ctx, out, errorFrame{Type: "error", Code: kind.Code(), Message: message})
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
