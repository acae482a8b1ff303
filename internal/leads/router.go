package leads

import (
	"fmt"
	"sort"
	"strings"

	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
)

// Router maps each conductor-reachable state to its responder.
// It is built once at startup and read concurrently afterwards.
type Router struct {
	byState map[domain.State]ports.Responder
}

// NewRouter fails unless every non-terminal state has a responder, so a
// missing mapping surfaces at startup rather than on a live lead.
func NewRouter(responders map[domain.State]ports.Responder) (*Router, error) {
	byState := make(map[domain.State]ports.Responder, len(responders))
	for state, r := range responders {
		if !state.IsKnown() {
			return nil, fmt.Errorf("responder registered for unknown state %q", state)
		}
		if state.IsTerminal() {
			return nil, fmt.Errorf("responder registered for terminal state %q", state)
		}
		if r == nil {
			return nil, fmt.Errorf("nil responder for state %q", state)
		}
		byState[state] = r
	}

	var missing []string
	for _, state := range domain.NonTerminalStates() {
		if _, ok := byState[state]; !ok {
			missing = append(missing, string(state))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("no responder for states: %s", strings.Join(missing, ", "))
	}
	return &Router{byState: byState}, nil
}

// For returns the responder for state.
func (r *Router) For(state domain.State) (ports.Responder, bool) {
	resp, ok := r.byState[state]
	return resp, ok
}
