// Package channel defines the contract between the gateway core and external
// chat platforms. Adapters normalize platform payloads into Inbound envelopes
// and deliver Outbound messages; everything else (policy, sessions, turns)
// stays in the gateway.
package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Inbound is the normalized form of one message received from a channel.
// Building it from the platform payload is the adapter's only inbound
// responsibility.
type Inbound struct {
	// Tenant is the owning tenant, resolved by the receiving endpoint.
	Tenant string

	// Channel names the platform ("line", "discord", ...).
	Channel string

	// UserExternalID is the platform's stable id for the sender.
	UserExternalID string

	// TargetID is where the reply should land (group or room id). Empty
	// falls back to the sender.
	TargetID string

	// ReplyToken is a short-lived reply handle, when the platform issues
	// one with the event.
	ReplyToken string

	// MessageID is the platform's id for this message, for logging.
	MessageID string

	// Text is the message content.
	Text string

	// Metadata carries platform extras the gateway persists on the session.
	Metadata map[string]string
}

// Outbound is one message to deliver through an adapter.
type Outbound struct {
	Tenant         string
	Channel        string
	UserExternalID string
	TargetID       string
	ReplyToken     string
	Text           string

	// Credentials authenticate this delivery. Resolved per call so one
	// adapter instance serves every tenant.
	Credentials Credentials
}

// Credentials are the delivery secrets resolved for one (tenant, channel,
// target). Token authenticates API calls; Secret signs or verifies webhook
// payloads.
type Credentials struct {
	Token  string
	Secret string
}

// Adapter delivers outbound messages to one platform. Implementations must
// be safe for concurrent use and must not retain Credentials beyond the
// call.
type Adapter interface {
	// Name returns the channel identifier ("line", "discord", ...).
	Name() string

	// Send delivers out to the platform.
	Send(ctx context.Context, out Outbound) error
}

// Registry resolves adapters by channel name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Registering a name twice is an error.
func (r *Registry) Register(a Adapter) error {
	name := a.Name()
	if name == "" {
		return fmt.Errorf("channel: adapter has an empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("channel: adapter %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
