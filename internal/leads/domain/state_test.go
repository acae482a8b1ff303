package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStateMachineIsWellFormed(t *testing.T) {
	if err := ValidateStateMachine(); err != nil {
		t.Fatalf("unexpected state machine error: %v", err)
	}
}

func TestOptedOutIsTerminal(t *testing.T) {
	for _, to := range AllStates() {
		if CanTransition(StateOptedOut, to) {
			t.Fatalf("opted_out must not transition to %s", to)
		}
	}
	if got := AllowedTransitions(StateOptedOut); len(got) != 0 {
		t.Fatalf("expected no transitions out of opted_out, got %v", got)
	}
}

func TestEveryNonTerminalStateReachesOptedOut(t *testing.T) {
	for _, from := range NonTerminalStates() {
		if err := ValidateTransition(from, StateOptedOut); err != nil {
			t.Fatalf("expected %s -> opted_out to be legal: %v", from, err)
		}
	}
}

func TestRequiredTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateNew, StateIntakeSent, true},
		{StateQualifying, StateQualified, true},
		{StateCold, StateQualifying, true},
		{StateNew, StateBooked, false},
		{StateIntakeSent, StateNew, false},
		{StateCompleted, StateQualifying, false},
		{StateQualified, StateQualified, false},
		{State("unknown"), StateQualifying, false},
		{StateNew, State("unknown"), false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidateTransitionReturnsTypedError(t *testing.T) {
	err := ValidateTransition(StateOptedOut, StateQualifying)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	if te.From != StateOptedOut || te.To != StateQualifying {
		t.Fatalf("unexpected transition error fields: %+v", te)
	}
}

func TestLeadTransitionToKeepsStateOnIllegalMove(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	lead := Lead{State: StateQualifying}

	if err := lead.TransitionTo(StateBooked, now); err == nil {
		t.Fatalf("expected qualifying -> booked to be rejected")
	}
	if lead.State != StateQualifying || lead.PreviousState != "" {
		t.Fatalf("lead mutated on illegal transition: %+v", lead)
	}

	if err := lead.TransitionTo(StateQualified, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lead.State != StateQualified || lead.PreviousState != StateQualifying {
		t.Fatalf("unexpected states after transition: %s from %s", lead.State, lead.PreviousState)
	}
}

func TestOptedOutLeadRejectsEveryTransition(t *testing.T) {
	now := time.Now()
	for _, to := range AllStates() {
		lead := Lead{State: StateOptedOut}
		if err := lead.TransitionTo(to, now); err == nil {
			t.Fatalf("opted_out lead accepted transition to %s", to)
		}
	}
}

func TestConsentOptOut(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	c := ConsentRecord{Type: ConsentPEWC, Active: true}

	c.OptOut("sms_stop", now)
	if !c.OptedOut || c.Active || c.OptOutMethod != "sms_stop" || c.OptedOutAt == nil {
		t.Fatalf("unexpected consent after opt-out: %+v", c)
	}

	later := now.Add(time.Hour)
	c.OptOut("manual", later)
	if c.OptOutMethod != "sms_stop" || !c.OptedOutAt.Equal(now) {
		t.Fatalf("second opt-out must not overwrite the first")
	}
}

func TestTenantQuota(t *testing.T) {
	tests := []struct {
		name   string
		tenant Tenant
		count  int
		want   bool
	}{
		{"starter under", Tenant{PlanTier: PlanStarter}, 99, false},
		{"starter at limit", Tenant{PlanTier: PlanStarter}, 100, true},
		{"enterprise unlimited", Tenant{PlanTier: PlanEnterprise}, 100000, false},
		{"override", Tenant{PlanTier: PlanEnterprise, MonthlyLeadLimit: 2}, 2, true},
		{"unknown tier uses starter", Tenant{PlanTier: "legacy"}, 100, true},
	}

	for _, tt := range tests {
		if got := tt.tenant.QuotaExceeded(tt.count); got != tt.want {
			t.Fatalf("%s: QuotaExceeded(%d) = %v, want %v", tt.name, tt.count, got, tt.want)
		}
	}
}
