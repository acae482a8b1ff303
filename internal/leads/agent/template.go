package agent

import (
	"context"
	"strings"

	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
)

const optOutFooter = "Reply STOP to opt out."

// TemplateResponder answers with fixed copy. It never fails and only
// proposes the transitions that any reply implies.
type TemplateResponder struct {
	role  Role
	state domain.State
}

var _ ports.Responder = (*TemplateResponder)(nil)

func NewTemplateResponder(role Role, state domain.State) *TemplateResponder {
	return &TemplateResponder{role: role, state: state}
}

func (t *TemplateResponder) Name() string { return string(t.role) }

func (t *TemplateResponder) Respond(_ context.Context, in ports.ResponderInput) (ports.Reply, error) {
	name := strings.TrimSpace(in.Lead.FirstName)
	if name == "" {
		name = "there"
	}
	business := in.Tenant.BusinessName

	var (
		text string
		next domain.State
	)
	switch t.state {
	case domain.StateNew:
		text = "Hi " + name + ", this is " + business + ". Thanks for reaching out!"
		if in.Lead.IsEmergency {
			text += " If you smell gas or see sparks, leave the area and call 911 first."
		}
		text += " When is a good time for us to take a look?"
	case domain.StateIntakeSent:
		text = "Thanks " + name + "! Can you tell us a bit more about the problem and how long it has been going on?"
		next = domain.StateQualifying
	case domain.StateQualifying:
		text = "Got it, thanks. What is the address or zip code for the visit?"
	case domain.StateQualified:
		text = "Great, we can help with that. What day and time work best for a visit?"
		next = domain.StateBooking
	case domain.StateBooking:
		text = "Thanks! A team member from " + business + " will confirm your appointment time shortly."
	case domain.StateBooked:
		text = "You're all set. We'll remind you before the appointment. Reply here if anything changes."
	case domain.StateCompleted:
		text = "Thanks for choosing " + business + "! Reply here if you need anything else."
	case domain.StateCold, domain.StateDead:
		text = "Hi " + name + ", it's " + business + ". Happy to help. What do you need done?"
		next = domain.StateQualifying
	default:
		text = "Thanks for your message. " + business + " will get back to you shortly."
	}

	if in.FirstMessage && !strings.Contains(strings.ToLower(text), "stop") {
		text += " " + optOutFooter
	}
	return ports.Reply{Text: text, NextState: next}, nil
}
