// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"leadlock_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Conductor Events
// =============================================================================

// LeadCreated is published after a new lead and its consent record are committed.
type LeadCreated struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	TenantID     uuid.UUID `json:"tenantId"`
	Phone        string    `json:"phone"`
	Source       string    `json:"source"`
	ConsentBasis string    `json:"consentBasis"`
	IsEmergency  bool      `json:"isEmergency"`
}

func (e LeadCreated) EventName() string { return "leads.lead.created" }

// LeadStateChanged is published after a committed state transition.
type LeadStateChanged struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	TenantID  uuid.UUID `json:"tenantId"`
	FromState string    `json:"fromState"`
	ToState   string    `json:"toState"`
	Trigger   string    `json:"trigger"`
}

func (e LeadStateChanged) EventName() string { return "leads.state.changed" }

// LeadOptedOut is published when a lead revokes consent.
type LeadOptedOut struct {
	BaseEvent
	LeadID             uuid.UUID `json:"leadId"`
	TenantID           uuid.UUID `json:"tenantId"`
	PreviousState      string    `json:"previousState"`
	Method             string    `json:"method"`
	CancelledFollowUps int64     `json:"cancelledFollowUps"`
}

func (e LeadOptedOut) EventName() string { return "leads.lead.opted_out" }

// ComplianceBlocked is published when the gatekeeper denies an outbound message.
// LeadID is uuid.Nil when the denial happened before a lead existed.
type ComplianceBlocked struct {
	BaseEvent
	LeadID   uuid.UUID  `json:"leadId"`
	TenantID uuid.UUID  `json:"tenantId"`
	Phase    string     `json:"phase"`
	Rule     string     `json:"rule"`
	Reason   string     `json:"reason"`
	RetryAt  *time.Time `json:"retryAt,omitempty"`
}

func (e ComplianceBlocked) EventName() string { return "compliance.blocked" }

// MessageSent is published after an outbound SMS is accepted by the provider
// and its record committed.
type MessageSent struct {
	BaseEvent
	LeadID            uuid.UUID `json:"leadId"`
	TenantID          uuid.UUID `json:"tenantId"`
	ProviderMessageID string    `json:"providerMessageId"`
	Agent             string    `json:"agent"`
	Segments          int       `json:"segments"`
	CostMicros        int64     `json:"costMicros"`
}

func (e MessageSent) EventName() string { return "leads.message.sent" }
