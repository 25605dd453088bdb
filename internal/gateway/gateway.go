// Package gateway routes inbound channel messages through tenant policy,
// session resolution, and a single-response turn, then delivers the reply
// back through the originating channel's adapter.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxgate/voxgate/internal/channel"
	"github.com/voxgate/voxgate/internal/session"
	"github.com/voxgate/voxgate/internal/turn"
	"github.com/voxgate/voxgate/pkg/fault"
)

// Turns starts conversation turns. Implemented by turn.Orchestrator.
type Turns interface {
	Process(ctx context.Context, sessionID string, input turn.Input) (*turn.Stream, error)
}

// Result is the outcome of routing one inbound message.
type Result struct {
	// SessionID identifies the session that served the message. Empty when
	// the message was denied before session resolution.
	SessionID string

	// ResponseText is the assistant's complete reply.
	ResponseText string

	// Allowed is false when tenant policy rejected the message. Denials are
	// outcomes, not errors; the transport reports them with a success
	// status.
	Allowed bool

	// DenyReason explains a denial for logging.
	DenyReason string
}

// Gateway is the channel-facing request path.
type Gateway struct {
	sessions session.Store
	turns    Turns
	policy   *Policy
	adapters *channel.Registry
	creds    CredentialResolver
	log      *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAdapters installs the outbound adapter registry. Without one, replies
// are computed but not delivered.
func WithAdapters(reg *channel.Registry) Option {
	return func(g *Gateway) { g.adapters = reg }
}

// WithCredentials installs the credential resolver for outbound delivery.
func WithCredentials(creds CredentialResolver) Option {
	return func(g *Gateway) { g.creds = creds }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// New builds a gateway. The policy is required; a tenant with no rule is
// denied.
func New(sessions session.Store, turns Turns, policy *Policy, opts ...Option) *Gateway {
	g := &Gateway{
		sessions: sessions,
		turns:    turns,
		policy:   policy,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RouteInbound admits, serves, and answers one inbound channel message.
//
// Policy denials return Allowed=false with a nil error and perform no
// session or turn work. Outbound delivery failures are logged but do not
// fail the route; the reply was already produced and is returned to the
// transport regardless.
func (g *Gateway) RouteInbound(ctx context.Context, in channel.Inbound) (Result, error) {
	if err := validateInbound(in); err != nil {
		return Result{}, err
	}

	if allowed, reason := g.policy.Allow(in.Tenant, in.Channel, in.UserExternalID); !allowed {
		g.log.Info("inbound denied",
			"tenant", in.Tenant,
			"channel", in.Channel,
			"user", in.UserExternalID,
			"reason", reason)
		return Result{Allowed: false, DenyReason: reason}, nil
	}

	key := session.Key{Tenant: in.Tenant, Channel: in.Channel, UserExternalID: in.UserExternalID}
	sess, err := g.sessions.GetOrCreate(ctx, key)
	if err != nil {
		return Result{}, fault.New(fault.KindBackendUnavailable, "gateway: resolve session", err)
	}

	stream, err := g.turns.Process(ctx, sess.ID, turn.Input{
		Text:    in.Text,
		UserID:  in.UserExternalID,
		Persona: sess.AgentID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("gateway: start turn: %w", err)
	}
	text, err := turn.CollectText(ctx, stream)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: collect response: %w", err)
	}

	g.deliver(ctx, in, text)
	g.saveSession(ctx, sess, in.Metadata)

	return Result{SessionID: sess.ID, ResponseText: text, Allowed: true}, nil
}

func validateInbound(in channel.Inbound) error {
	switch {
	case strings.TrimSpace(in.Tenant) == "":
		return fault.Errorf(fault.KindInputValidation, "gateway: route inbound", "missing tenant")
	case strings.TrimSpace(in.Channel) == "":
		return fault.Errorf(fault.KindInputValidation, "gateway: route inbound", "missing channel")
	case strings.TrimSpace(in.UserExternalID) == "":
		return fault.Errorf(fault.KindInputValidation, "gateway: route inbound", "missing user id")
	case strings.TrimSpace(in.Text) == "":
		return fault.Errorf(fault.KindInputValidation, "gateway: route inbound", "empty text")
	}
	return nil
}

// deliver sends text back through the originating channel. Best effort: the
// transport already carries the reply, so delivery problems only log.
func (g *Gateway) deliver(ctx context.Context, in channel.Inbound, text string) {
	if g.adapters == nil {
		return
	}
	adapter, ok := g.adapters.Get(in.Channel)
	if !ok {
		g.log.Debug("no adapter for channel", "channel", in.Channel)
		return
	}
	out := channel.Outbound{
		Tenant:         in.Tenant,
		Channel:        in.Channel,
		UserExternalID: in.UserExternalID,
		TargetID:       in.TargetID,
		ReplyToken:     in.ReplyToken,
		Text:           text,
	}
	if g.creds != nil {
		creds, err := g.creds.Resolve(in.Tenant, in.Channel, in.TargetID)
		if err != nil {
			g.log.Warn("outbound credentials unresolved",
				"tenant", in.Tenant,
				"channel", in.Channel,
				"error", err)
			return
		}
		out.Credentials = creds
	}
	if err := adapter.Send(ctx, out); err != nil {
		g.log.Warn("outbound delivery failed",
			"tenant", in.Tenant,
			"channel", in.Channel,
			"error", err)
	}
}

// saveSession merges channel metadata and persists the touched session.
// Failures log only; the turn already completed.
func (g *Gateway) saveSession(ctx context.Context, sess *session.Session, metadata map[string]string) {
	if len(metadata) > 0 {
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			sess.Metadata[k] = v
		}
	}
	if err := g.sessions.Save(ctx, sess); err != nil {
		g.log.Warn("session save failed", "session_id", sess.ID, "error", err)
	}
}
