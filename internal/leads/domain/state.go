// Package domain provides core business rules for the leads bounded context.
package domain

import (
	"errors"
	"fmt"
)

// State is the position of a lead in the conversation lifecycle.
type State string

const (
	StateNew        State = "new"
	StateIntakeSent State = "intake_sent"
	StateQualifying State = "qualifying"
	StateQualified  State = "qualified"
	StateBooking    State = "booking"
	StateBooked     State = "booked"
	StateCompleted  State = "completed"
	StateCold       State = "cold"
	StateDead       State = "dead"
	StateOptedOut   State = "opted_out"
)

// ErrIllegalTransition is wrapped by every rejected transition.
var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

var allStates = []State{
	StateNew,
	StateIntakeSent,
	StateQualifying,
	StateQualified,
	StateBooking,
	StateBooked,
	StateCompleted,
	StateCold,
	StateDead,
	StateOptedOut,
}

var terminalStates = map[State]bool{
	StateOptedOut: true,
}

// forwardTransitions lists business transitions only. The edge to opted_out
// is implied for every non-terminal state and checked by ValidateStateMachine.
var forwardTransitions = map[State][]State{
	StateNew:        {StateIntakeSent, StateQualifying, StateCold, StateDead},
	StateIntakeSent: {StateQualifying, StateCold, StateDead},
	StateQualifying: {StateQualified, StateCold, StateDead},
	StateQualified:  {StateBooking, StateCold, StateDead},
	StateBooking:    {StateBooked, StateQualified, StateCold, StateDead},
	StateBooked:     {StateCompleted, StateBooking, StateDead},
	StateCompleted:  {},
	StateCold:       {StateQualifying, StateDead},
	StateDead:       {StateQualifying},
	StateOptedOut:   {},
}

// AllStates returns every state in lifecycle order.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// NonTerminalStates returns every state that still accepts transitions.
func NonTerminalStates() []State {
	out := make([]State, 0, len(allStates))
	for _, s := range allStates {
		if !terminalStates[s] {
			out = append(out, s)
		}
	}
	return out
}

// IsKnown reports whether s is a member of the closed state set.
func (s State) IsKnown() bool {
	_, ok := forwardTransitions[s]
	return ok
}

// IsTerminal reports whether no transition may leave s.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// CanTransition reports whether from -> to is in the allowed set.
func CanTransition(from, to State) bool {
	if !from.IsKnown() || !to.IsKnown() || from.IsTerminal() {
		return false
	}
	if to == StateOptedOut {
		return true
	}
	for _, candidate := range forwardTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError when from -> to is not allowed.
func ValidateTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// AllowedTransitions lists every legal target of from, opted_out included.
func AllowedTransitions(from State) []State {
	if !from.IsKnown() || from.IsTerminal() {
		return nil
	}
	out := append([]State(nil), forwardTransitions[from]...)
	return append(out, StateOptedOut)
}

// ValidateStateMachine checks the structural invariants of the transition table:
// the table is closed over known states, terminal states have no exits, and
// opted_out is reachable from every non-terminal state.
func ValidateStateMachine() error {
	if len(forwardTransitions) != len(allStates) {
		return fmt.Errorf("transition table covers %d states, expected %d", len(forwardTransitions), len(allStates))
	}
	for _, s := range allStates {
		targets, ok := forwardTransitions[s]
		if !ok {
			return fmt.Errorf("state %s missing from transition table", s)
		}
		if s.IsTerminal() && len(targets) > 0 {
			return fmt.Errorf("terminal state %s has outgoing transitions", s)
		}
		for _, t := range targets {
			if !t.IsKnown() {
				return fmt.Errorf("state %s transitions to unknown state %s", s, t)
			}
			if t == s {
				return fmt.Errorf("state %s has a self transition", s)
			}
		}
		if !s.IsTerminal() && !CanTransition(s, StateOptedOut) {
			return fmt.Errorf("state %s cannot reach %s", s, StateOptedOut)
		}
	}
	return nil
}

func init() {
	if err := ValidateStateMachine(); err != nil {
		panic("leads/domain: " + err.Error())
	}
}
