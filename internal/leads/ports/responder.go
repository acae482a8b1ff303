package ports

import (
	"context"

	"leadlock_backend/internal/leads/domain"
)

// ResponderInput is the context handed to a responder.
type ResponderInput struct {
	Lead   domain.Lead
	Tenant domain.Tenant
	// InboundText is the message being answered; empty for outreach the
	// lead did not prompt.
	InboundText  string
	FirstMessage bool
}

// Reply is a responder's proposed message and its side effects.
type Reply struct {
	Text string
	// NextState is the state the lead should move to once the message is
	// sent. Empty keeps the current state.
	NextState  domain.State
	ScoreDelta int
	NextAction string
	// Marketing marks promotional content, which requires written consent.
	Marketing  bool
	CostMicros int64
}

// Responder produces the next outbound message for a lead in a given state.
// Implementations may be slow and call remote services.
type Responder interface {
	Name() string
	Respond(ctx context.Context, in ResponderInput) (Reply, error)
}
