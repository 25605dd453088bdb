package gateway

import (
	"time"

	"golang.org/x/time/rate"
)

// Deny reasons reported by Policy.Allow. Stable strings so callers can log
// and assert on them.
const (
	DenyUnknownTenant     = "unknown tenant"
	DenyChannelNotAllowed = "channel not allowed"
	DenyUserBlocked       = "user blocked"
	DenyRateLimited       = "rate limit exceeded"
)

// Rule is the per-tenant admission policy.
type Rule struct {
	// AllowedChannels restricts which channels the tenant may use. Empty
	// allows every channel.
	AllowedChannels []string

	// DeniedUsers lists external user IDs that are always rejected.
	DeniedUsers []string

	// RequestsPerMinute caps inbound messages across the whole tenant.
	// Zero means unlimited.
	RequestsPerMinute int
}

// Policy admits or rejects inbound messages per tenant. Tenants without a
// rule are rejected; an open deployment registers an explicit permissive
// rule instead.
type Policy struct {
	rules    map[string]Rule
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithPolicyClock overrides the time source used by rate limiting.
func WithPolicyClock(now func() time.Time) PolicyOption {
	return func(p *Policy) { p.now = now }
}

// NewPolicy builds a policy from per-tenant rules. Rate limiters refill
// continuously at the per-minute rate with a burst of one minute's worth.
func NewPolicy(rules map[string]Rule, opts ...PolicyOption) *Policy {
	p := &Policy{
		rules:    make(map[string]Rule, len(rules)),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for tenant, rule := range rules {
		p.rules[tenant] = rule
		if rule.RequestsPerMinute > 0 {
			rpm := rule.RequestsPerMinute
			p.limiters[tenant] = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Allow decides whether one inbound message from (tenant, channel, user) is
// admitted. The returned reason is empty when allowed.
func (p *Policy) Allow(tenant, channelName, userExternalID string) (bool, string) {
	rule, ok := p.rules[tenant]
	if !ok {
		return false, DenyUnknownTenant
	}
	if len(rule.AllowedChannels) > 0 && !contains(rule.AllowedChannels, channelName) {
		return false, DenyChannelNotAllowed
	}
	if contains(rule.DeniedUsers, userExternalID) {
		return false, DenyUserBlocked
	}
	if limiter, ok := p.limiters[tenant]; ok && !limiter.AllowN(p.now(), 1) {
		return false, DenyRateLimited
	}
	return true, ""
}

// Tenants returns the tenant IDs with a configured rule.
func (p *Policy) Tenants() []string {
	ids := make([]string, 0, len(p.rules))
	for id := range p.rules {
		ids = append(ids, id)
	}
	return ids
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
