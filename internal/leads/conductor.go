package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadlock_backend/internal/compliance"
	"leadlock_backend/internal/events"
	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/apperr"
	"leadlock_backend/platform/config"
	"leadlock_backend/platform/dedup"
	"leadlock_backend/platform/locks"
	"leadlock_backend/platform/logger"
	"leadlock_backend/platform/validator"

	"github.com/google/uuid"
)

// Settings bound the conductor's waits and conversation length.
type Settings struct {
	LockWait       time.Duration
	OptOutLockWait time.Duration
	MaxTurns       int
}

// SettingsFrom reads Settings from configuration.
func SettingsFrom(cfg config.ConductorConfig) Settings {
	return Settings{
		LockWait:       cfg.GetLockWaitTimeout(),
		OptOutLockWait: cfg.GetOptOutLockWaitTimeout(),
		MaxTurns:       cfg.GetMaxConversationTurns(),
	}
}

// Deps are the collaborators of a Conductor. All fields are required.
type Deps struct {
	Store      ports.LeadStore
	Tenants    ports.TenantDirectory
	Transport  ports.Transport
	Audit      ports.AuditSink
	Locks      locks.Manager
	Dedup      dedup.Suppressor
	Gatekeeper *compliance.Gatekeeper
	Router     *Router
	Bus        events.Bus
	Validator  *validator.Validator
	Log        *logger.Logger
}

// Conductor orchestrates every new-lead signal and inbound reply: dedup,
// per-lead locking, tenant and quota resolution, compliance, response
// generation, sending and persistence.
type Conductor struct {
	store     ports.LeadStore
	tenants   ports.TenantDirectory
	transport ports.Transport
	audit     ports.AuditSink
	locks     locks.Manager
	dedup     dedup.Suppressor
	gate      *compliance.Gatekeeper
	router    *Router
	bus       events.Bus
	val       *validator.Validator
	log       *logger.Logger
	settings  Settings
	now       func() time.Time
}

// NewConductor wires a Conductor and registers the envelope validation rules.
func NewConductor(d Deps, s Settings) (*Conductor, error) {
	switch {
	case d.Store == nil, d.Tenants == nil, d.Transport == nil, d.Audit == nil:
		return nil, errors.New("conductor: store, tenants, transport and audit are required")
	case d.Locks == nil, d.Dedup == nil, d.Gatekeeper == nil, d.Router == nil:
		return nil, errors.New("conductor: locks, dedup, gatekeeper and router are required")
	case d.Bus == nil, d.Validator == nil, d.Log == nil:
		return nil, errors.New("conductor: bus, validator and logger are required")
	}
	if s.LockWait <= 0 || s.OptOutLockWait <= 0 {
		return nil, errors.New("conductor: lock waits must be positive")
	}
	if s.MaxTurns <= 0 {
		return nil, errors.New("conductor: max turns must be positive")
	}
	if err := RegisterValidations(d.Validator); err != nil {
		return nil, err
	}

	return &Conductor{
		store:     d.Store,
		tenants:   d.Tenants,
		transport: d.Transport,
		audit:     d.Audit,
		locks:     d.Locks,
		dedup:     d.Dedup,
		gate:      d.Gatekeeper,
		router:    d.Router,
		bus:       d.Bus,
		val:       d.Validator,
		log:       d.Log,
		settings:  s,
		now:       time.Now,
	}, nil
}

// RegisterValidations adds the lead envelope rules to val.
func RegisterValidations(val *validator.Validator) error {
	if err := val.RegisterValidation("us_state", func(fl validator.FieldLevel) bool {
		return compliance.KnownState(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("register us_state: %w", err)
	}
	if err := val.RegisterValidation("consent_basis", func(fl validator.FieldLevel) bool {
		return domain.ConsentType(fl.Field().String()).IsValid()
	}); err != nil {
		return fmt.Errorf("register consent_basis: %w", err)
	}
	return nil
}

// withLeadLock runs fn under the identity lock and maps contention to a
// retryable outcome.
func (c *Conductor) withLeadLock(ctx context.Context, key string, wait time.Duration, fn func(ctx context.Context) Outcome) Outcome {
	var out Outcome
	err := locks.WithLock(ctx, c.locks, key, wait, func(ctx context.Context) error {
		out = fn(ctx)
		return nil
	})
	switch {
	case err == nil:
		return out
	case errors.Is(err, locks.ErrLockTimeout):
		return Outcome{Kind: OutcomeRetryable, Status: StatusLockTimeout, Reason: "lead is busy", Err: err}
	case errors.Is(err, locks.ErrLeaseLost):
		// The pass itself completed; its outcome stands.
		c.log.Error("conductor: lock lease expired during pass", "key", key)
		return out
	default:
		return c.collaboratorFailure("acquire lead lock", err)
	}
}

// collaboratorFailure classifies an infrastructure or collaborator error.
// Anything not known to be permanent is retried.
func (c *Conductor) collaboratorFailure(op string, err error) Outcome {
	kind := OutcomeRetryable
	switch apperr.GetKind(err) {
	case apperr.KindValidation, apperr.KindForbidden, apperr.KindConflict:
		kind = OutcomeFailed
	}
	if errors.Is(err, domain.ErrIllegalTransition) {
		return Outcome{Kind: OutcomeFailed, Status: StatusIllegalTransition, Reason: err.Error(), Err: err}
	}
	return Outcome{Kind: kind, Status: StatusFailed, Reason: op, Err: fmt.Errorf("%s: %w", op, err)}
}

// complianceDenied records a gatekeeper denial and converts it to an outcome.
func (c *Conductor) complianceDenied(ctx context.Context, log *logger.Logger, phase string, lead domain.Lead, res compliance.Result) Outcome {
	log.ComplianceDecision(phase, false, res.Rule, res.Reason)

	event := domain.AuditEvent{
		ID:         uuid.New(),
		LeadID:     lead.ID,
		TenantID:   lead.TenantID,
		Phone:      lead.Phone,
		Type:       domain.AuditComplianceDenied,
		Rule:       res.Rule,
		Reason:     res.Reason,
		FromState:  lead.State,
		Metadata:   map[string]any{"phase": phase},
		OccurredAt: c.now().UTC(),
	}
	if res.RetryAt != nil {
		event.Metadata["retryAt"] = res.RetryAt.UTC().Format(time.RFC3339)
	}
	if err := c.audit.Record(ctx, event); err != nil {
		log.Error("conductor: failed to record compliance denial", "error", err, "rule", res.Rule)
	}

	c.bus.Publish(ctx, events.ComplianceBlocked{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		Phase:     phase,
		Rule:      res.Rule,
		Reason:    res.Reason,
		RetryAt:   res.RetryAt,
	})

	return Outcome{
		Kind:    OutcomeDenied,
		Status:  StatusComplianceBlocked,
		LeadID:  lead.ID,
		State:   lead.State,
		Rule:    res.Rule,
		Reason:  res.Reason,
		RetryAt: res.RetryAt,
	}
}

func (c *Conductor) complianceRequest(lead domain.Lead, consent *domain.ConsentRecord, tenant domain.Tenant) compliance.Request {
	req := compliance.Request{
		StateCode:         lead.StateCode,
		Timezone:          lead.Timezone,
		FallbackTimezone:  tenant.Timezone,
		Emergency:         lead.IsEmergency,
		ColdOutreachCount: lead.ColdOutreachCount,
		BusinessName:      tenant.BusinessName,
		Now:               c.now(),
	}
	if consent != nil {
		req.Consent = &compliance.Consent{
			Level:    string(consent.Type),
			Active:   consent.Active,
			OptedOut: consent.OptedOut,
		}
	}
	return req
}

// resolveTenant maps directory errors to outcomes. ok is false when out is final.
func (c *Conductor) resolveTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, Outcome, bool) {
	tenant, err := c.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return domain.Tenant{}, denied(StatusClientNotFound, "unknown tenant"), false
		}
		return domain.Tenant{}, c.collaboratorFailure("resolve tenant", err), false
	}
	if !tenant.Active {
		return domain.Tenant{}, denied(StatusClientNotFound, "tenant is inactive"), false
	}
	return tenant, Outcome{}, true
}

func (c *Conductor) logOutcome(log *logger.Logger, op string, out Outcome) {
	args := []any{
		"op", op,
		"kind", out.Kind.String(),
		"status", out.Status,
		"latencyMs", out.Latency.Milliseconds(),
	}
	if out.LeadID != uuid.Nil {
		args = append(args, "leadId", out.LeadID)
	}
	if out.Rule != "" {
		args = append(args, "rule", out.Rule)
	}
	switch out.Kind {
	case OutcomeFailed:
		log.Error("conductor: pass failed", append(args, "error", out.Err)...)
	case OutcomeRetryable:
		log.Warn("conductor: pass will be retried", append(args, "error", out.Err)...)
	default:
		log.Info("conductor: pass finished", args...)
	}
}

func newOutboundMessage(lead domain.Lead, agent, body string, res ports.ProviderResult, now time.Time) domain.Message {
	return domain.Message{
		ID:                uuid.New(),
		LeadID:            lead.ID,
		TenantID:          lead.TenantID,
		Direction:         domain.DirectionOutbound,
		Body:              body,
		Agent:             agent,
		ProviderMessageID: res.MessageID,
		Segments:          res.Segments,
		CostMicros:        res.CostMicros,
		CreatedAt:         now,
	}
}

func newInboundMessage(lead domain.Lead, body, providerID string, now time.Time) domain.Message {
	return domain.Message{
		ID:                uuid.New(),
		LeadID:            lead.ID,
		TenantID:          lead.TenantID,
		Direction:         domain.DirectionInbound,
		Body:              body,
		ProviderMessageID: providerID,
		CreatedAt:         now,
	}
}

// sentAudit records one delivered outbound message.
func sentAudit(lead domain.Lead, agent string, reply ports.Reply, res ports.ProviderResult, now time.Time) domain.AuditEvent {
	meta := map[string]any{
		"agent":             agent,
		"providerMessageId": res.MessageID,
		"segments":          res.Segments,
	}
	if reply.NextAction != "" {
		meta["nextAction"] = reply.NextAction
	}
	return domain.AuditEvent{
		ID:         uuid.New(),
		LeadID:     lead.ID,
		TenantID:   lead.TenantID,
		Phone:      lead.Phone,
		Type:       domain.AuditMessageSent,
		ToState:    lead.State,
		Metadata:   meta,
		OccurredAt: now,
	}
}

func transitionAudit(lead domain.Lead, trigger string, now time.Time) domain.AuditEvent {
	return domain.AuditEvent{
		ID:         uuid.New(),
		LeadID:     lead.ID,
		TenantID:   lead.TenantID,
		Phone:      lead.Phone,
		Type:       domain.AuditStateTransition,
		FromState:  lead.PreviousState,
		ToState:    lead.State,
		Metadata:   map[string]any{"trigger": trigger},
		OccurredAt: now,
	}
}
