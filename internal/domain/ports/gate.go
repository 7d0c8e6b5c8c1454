package ports

import (
	"context"

	"github.com/username/branchtalk/internal/domain/entities"
)

// GateDecision is the outcome of a quota check
type GateDecision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`

	// Unlimited principals are never prompted about their quota
	Unlimited bool `json:"unlimited"`

	// Paid reflects an active subscription on the owning account
	Paid bool `json:"paid"`
}

// UsageGatePort is the per-day usage-limit gate consulted before any
// generation starts. Increment is called only when a generation completes;
// stopped or failed generations do not count against the quota.
type UsageGatePort interface {
	Check(ctx context.Context, principal entities.Principal) (*GateDecision, error)
	Increment(ctx context.Context, principal entities.Principal) error
}

// IdentityPort resolves the stable session key for a principal. The key
// groups the principal's live connections; the core treats it as opaque.
type IdentityPort interface {
	SessionKey(ctx context.Context, principal entities.Principal) (string, error)
}
