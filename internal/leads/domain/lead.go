package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConsentType is the legal basis under which a lead may be contacted.
type ConsentType string

const (
	// ConsentPEC is prior express consent: transactional messages only.
	ConsentPEC ConsentType = "pec"
	// ConsentPEWC is prior express written consent: marketing allowed.
	ConsentPEWC ConsentType = "pewc"
)

// IsValid reports whether c is a known consent basis.
func (c ConsentType) IsValid() bool {
	return c == ConsentPEC || c == ConsentPEWC
}

// Lead is a contactable prospect owned by one tenant.
type Lead struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Phone    string

	FirstName string
	LastName  string
	Email     string
	Address   string
	StateCode string
	Timezone  string
	Source    string

	State             State
	PreviousState     State
	CurrentAgent      string
	ConversationTurns int
	Score             int

	ColdOutreachCount int
	IsEmergency       bool
	EmergencyCategory string
	ConsentID         *uuid.UUID

	MessagesSent     int
	MessagesReceived int
	CostMicros       int64

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastInboundAt  *time.Time
	LastOutboundAt *time.Time
	NextFollowUpAt *time.Time
}

// TransitionTo moves the lead to next, remembering the state it left.
// The lead is left untouched when the transition is illegal.
func (l *Lead) TransitionTo(next State, now time.Time) error {
	if err := ValidateTransition(l.State, next); err != nil {
		return err
	}
	l.PreviousState = l.State
	l.State = next
	l.UpdatedAt = now
	return nil
}

// RecordOutbound accrues one sent message.
func (l *Lead) RecordOutbound(costMicros int64, cold bool, now time.Time) {
	l.MessagesSent++
	l.CostMicros += costMicros
	if cold {
		l.ColdOutreachCount++
	}
	l.LastOutboundAt = &now
	l.UpdatedAt = now
}

// RecordInbound accrues one received message.
func (l *Lead) RecordInbound(now time.Time) {
	l.MessagesReceived++
	l.LastInboundAt = &now
	l.UpdatedAt = now
}

// ConsentRecord is the legal basis for contacting one phone for one tenant.
type ConsentRecord struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Phone        string
	Type         ConsentType
	Source       string
	Active       bool
	OptedOut     bool
	OptOutMethod string
	OptedOutAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OptOut revokes the consent. Calling it on revoked consent is a no-op.
func (c *ConsentRecord) OptOut(method string, now time.Time) {
	if c.OptedOut {
		return
	}
	c.OptedOut = true
	c.Active = false
	c.OptOutMethod = method
	c.OptedOutAt = &now
	c.UpdatedAt = now
}

// Direction of a message relative to the tenant.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Message is one SMS exchanged with a lead.
type Message struct {
	ID                uuid.UUID
	LeadID            uuid.UUID
	TenantID          uuid.UUID
	Direction         Direction
	Body              string
	Agent             string
	ProviderMessageID string
	Segments          int
	CostMicros        int64
	CreatedAt         time.Time
}

// Audit event types.
const (
	AuditLeadCreated       = "lead_created"
	AuditStateTransition   = "state_transition"
	AuditComplianceAllowed = "compliance_allowed"
	AuditComplianceDenied  = "compliance_denied"
	AuditOptOut            = "opt_out"
	AuditMessageSent       = "message_sent"
)

// AuditEvent is an append-only record of a compliance decision or state change.
// LeadID is uuid.Nil for decisions taken before a lead record exists.
type AuditEvent struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	TenantID   uuid.UUID
	Phone      string
	Type       string
	Rule       string
	Reason     string
	FromState  State
	ToState    State
	Metadata   map[string]any
	OccurredAt time.Time
}
