package leads

import (
	"time"

	"leadlock_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// OutcomeKind classifies a conductor pass for the retry coordinator.
type OutcomeKind int

const (
	// OutcomeSuccess covers sends, idempotent acknowledgements and opt-outs.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeDenied is a policy or input rejection. Retrying will not help.
	OutcomeDenied
	// OutcomeRetryable is contention or a transient collaborator failure.
	OutcomeRetryable
	// OutcomeFailed is a permanent failure that needs attention.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeDenied:
		return "denied"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Statuses reported in Outcome.Status. Successful replies report the
// resulting lead state instead.
const (
	StatusIntakeSent              = "intake_sent"
	StatusDuplicateAcknowledged   = "duplicate_acknowledged"
	StatusInvalidPhone            = "invalid_phone"
	StatusInvalidRequest          = "invalid_request"
	StatusClientNotFound          = "client_not_found"
	StatusLeadNotFound            = "lead_not_found"
	StatusMonthlyLeadLimitReached = "monthly_lead_limit_reached"
	StatusComplianceBlocked       = "compliance_blocked"
	StatusLockTimeout             = "lock_timeout"
	StatusOptedOut                = "opted_out"
	StatusTurnLimitReached        = "turn_limit_reached"
	StatusIllegalTransition       = "illegal_transition"
	StatusFailed                  = "failed"
)

// Outcome is the typed result of a conductor pass. It is returned by value
// and never carries a half-applied state: a non-success outcome means the
// lead is where it was before the pass.
type Outcome struct {
	Kind    OutcomeKind
	Status  string
	LeadID  uuid.UUID
	State   domain.State
	Latency time.Duration

	// Rule and Reason are set for compliance denials.
	Rule   string
	Reason string
	// RetryAt is the earliest time a re-drive may succeed, when known.
	RetryAt *time.Time

	Err error
}

// Retryable reports whether the pass should be re-driven.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeRetryable
}

// OK reports whether the pass completed without rejection.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

func success(status string, leadID uuid.UUID, state domain.State) Outcome {
	return Outcome{Kind: OutcomeSuccess, Status: status, LeadID: leadID, State: state}
}

func denied(status, reason string) Outcome {
	return Outcome{Kind: OutcomeDenied, Status: status, Reason: reason}
}
