// Package session maps (tenant, channel, user) tuples to stable session
// identities and persists them behind a single Store contract.
//
// The tuple key maps to at most one live session; every backend enforces
// that invariant atomically (compare-and-set on the tuple key), so two
// concurrent first messages from the same user yield one session. The
// backend is selected once at startup; there is no per-request fallback,
// and backend unavailability fails the enclosing use case.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned when a tuple key has an empty component.
var ErrInvalidKey = errors.New("session: invalid key")

// Key is the (tenant, channel, user) tuple identifying a session. Components
// are trimmed of surrounding whitespace; no further normalization is applied.
type Key struct {
	Tenant         string
	Channel        string
	UserExternalID string
}

// Validate reports whether all components are non-empty after trimming.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Tenant) == "" ||
		strings.TrimSpace(k.Channel) == "" ||
		strings.TrimSpace(k.UserExternalID) == "" {
		return ErrInvalidKey
	}
	return nil
}

// String returns the canonical storage key,
// "tenant:{T}:channel:{C}:user:{U}".
func (k Key) String() string {
	return "tenant:" + strings.TrimSpace(k.Tenant) +
		":channel:" + strings.TrimSpace(k.Channel) +
		":user:" + strings.TrimSpace(k.UserExternalID)
}

// Session is the durable identity for one (tenant, channel, user) tuple.
// The JSON schema is additive; unknown fields are preserved nowhere and
// ignored on read.
type Session struct {
	// ID uniquely identifies the session.
	ID string `json:"id"`

	// TenantID is the owning tenant.
	TenantID string `json:"tenant_id"`

	// AgentID selects the persona serving this session. Defaults to
	// "default" at creation; the gateway may override and Save.
	AgentID string `json:"agent_id"`

	// ThreadID is the checkpoint thread for this session. Stable for the
	// session's lifetime.
	ThreadID string `json:"thread_id"`

	// Channel is the channel component of the tuple key.
	Channel string `json:"channel"`

	// UserExternalID is the user component of the tuple key.
	UserExternalID string `json:"user_external_id"`

	// CreatedAt is when the session was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt advances monotonically on every Save.
	UpdatedAt time.Time `json:"updated_at"`

	// IsActive is false once the session has been tombstoned.
	IsActive bool `json:"is_active"`

	// Metadata carries channel-specific extras.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store is the abstraction over any session backend.
type Store interface {
	// GetOrCreate returns the live session for key, creating one if none
	// exists. Concurrent calls with the same key observe the same session.
	GetOrCreate(ctx context.Context, key Key) (*Session, error)

	// Save persists the session and advances UpdatedAt.
	Save(ctx context.Context, s *Session) error

	// Delete tombstones the session for key. Deleting a missing session is
	// not an error.
	Delete(ctx context.Context, key Key) error

	// Close releases backend resources.
	Close() error
}

// newSession builds a fresh session for key. The thread ID is derived from
// the session ID and never changes afterwards.
func newSession(key Key) *Session {
	now := time.Now()
	id := uuid.NewString()
	return &Session{
		ID:             id,
		TenantID:       strings.TrimSpace(key.Tenant),
		AgentID:        "default",
		ThreadID:       "session:" + id,
		Channel:        strings.TrimSpace(key.Channel),
		UserExternalID: strings.TrimSpace(key.UserExternalID),
		CreatedAt:      now,
		UpdatedAt:      now,
		IsActive:       true,
	}
}

// touch advances UpdatedAt, guaranteeing strict monotonicity even under
// clock adjustments.
func touch(s *Session) {
	now := time.Now()
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Nanosecond)
	}
	s.UpdatedAt = now
}

// clone returns an independent copy so callers cannot mutate stored state.
func clone(s *Session) *Session {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
