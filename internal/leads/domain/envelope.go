package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadEnvelope is a normalized new-lead signal handed over by the transport layer.
type LeadEnvelope struct {
	TenantID     uuid.UUID   `json:"tenantId" validate:"required"`
	Phone        string      `json:"phone" validate:"required"`
	FirstName    string      `json:"firstName,omitempty" validate:"max=100"`
	LastName     string      `json:"lastName,omitempty" validate:"max=100"`
	Email        string      `json:"email,omitempty" validate:"omitempty,email"`
	Address      string      `json:"address,omitempty" validate:"max=500"`
	StateCode    string      `json:"stateCode,omitempty" validate:"omitempty,us_state"`
	Timezone     string      `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Source       string      `json:"source" validate:"required,max=100"`
	ConsentBasis ConsentType `json:"consentBasis" validate:"required,consent_basis"`
	InboundText  string      `json:"inboundText,omitempty" validate:"max=1600"`
	ReceivedAt   time.Time   `json:"receivedAt"`
}

// InboundReply is a message received from an existing lead.
type InboundReply struct {
	TenantID          uuid.UUID `json:"tenantId" validate:"required"`
	LeadID            uuid.UUID `json:"leadId" validate:"required"`
	Text              string    `json:"text" validate:"max=1600"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	ReceivedAt        time.Time `json:"receivedAt"`
}
