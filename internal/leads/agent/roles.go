// Package agent provides the responders that write each outbound message:
// deterministic templates and ADK agents backed by Kimi.
package agent

import (
	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/ai/moonshot"
	"leadlock_backend/platform/config"
	"leadlock_backend/platform/logger"
)

// Role is a conversational job shared by one or more lead states.
type Role string

const (
	RoleIntake    Role = "intake"
	RoleQualifier Role = "qualifier"
	RoleBooker    Role = "booker"
	RoleConcierge Role = "concierge"
	RoleReengager Role = "reengager"
)

var stateRoles = map[domain.State]Role{
	domain.StateNew:        RoleIntake,
	domain.StateIntakeSent: RoleIntake,
	domain.StateQualifying: RoleQualifier,
	domain.StateQualified:  RoleBooker,
	domain.StateBooking:    RoleBooker,
	domain.StateBooked:     RoleConcierge,
	domain.StateCompleted:  RoleConcierge,
	domain.StateCold:       RoleReengager,
	domain.StateDead:       RoleReengager,
}

// RoleFor returns the role answering leads in state.
func RoleFor(state domain.State) (Role, bool) {
	r, ok := stateRoles[state]
	return r, ok
}

// NewResponders builds one responder per non-terminal state. With AI
// enabled each state gets an LLM responder falling back to its template;
// otherwise templates answer alone.
func NewResponders(cfg config.AIConfig, log *logger.Logger) map[domain.State]ports.Responder {
	out := make(map[domain.State]ports.Responder, len(stateRoles))

	var kimi *moonshot.KimiModel
	if cfg.IsAIEnabled() {
		kimi = moonshot.NewModel(moonshot.Config{
			APIKey:      cfg.GetMoonshotAPIKey(),
			Model:       cfg.GetAIModel(),
			Temperature: 0.4,
		})
	} else {
		log.Info("agent: AI disabled, using template responders")
	}

	for state, role := range stateRoles {
		tmpl := NewTemplateResponder(role, state)
		if kimi == nil {
			out[state] = tmpl
			continue
		}
		out[state] = NewLLMResponder(role, kimi, tmpl, log)
	}
	return out
}
