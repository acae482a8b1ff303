package leads

import (
	"context"
	"errors"
	"strings"

	"leadlock_backend/internal/compliance"
	"leadlock_backend/internal/events"
	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/logger"
	"leadlock_backend/platform/phone"
	"leadlock_backend/platform/sanitize"
	"leadlock_backend/platform/validator"

	"github.com/google/uuid"
)

// errQuotaExhausted aborts the write transaction when a concurrent pass for
// another phone took the tenant's last lead of the period.
var errQuotaExhausted = errors.New("monthly lead quota exhausted")

const (
	phasePrecheck = "precheck"
	phaseContent  = "content"
	phaseReply    = "reply"
	phaseConsent  = "consent"
)

// HandleNewLead contacts a freshly submitted lead. Lead and consent records
// are only created if the first message is sent; any failure leaves nothing
// behind but the audit trail.
func (c *Conductor) HandleNewLead(ctx context.Context, env domain.LeadEnvelope) Outcome {
	start := c.now()
	log := c.log.WithContext(ctx).WithLead("", env.TenantID.String())

	out := c.handleNewLead(ctx, log, env)
	out.Latency = c.now().Sub(start)
	c.logOutcome(log, "new_lead", out)
	return out
}

func (c *Conductor) handleNewLead(ctx context.Context, log *logger.Logger, env domain.LeadEnvelope) Outcome {
	normalized, err := phone.NormalizeE164(env.Phone)
	if err != nil {
		return denied(StatusInvalidPhone, err.Error())
	}
	env.Phone = normalized
	env.StateCode = strings.ToUpper(strings.TrimSpace(env.StateCode))
	env.FirstName = sanitize.Line(env.FirstName)
	env.LastName = sanitize.Line(env.LastName)
	env.Address = sanitize.Line(env.Address)
	env.Source = sanitize.Line(env.Source)
	env.InboundText = sanitize.Text(env.InboundText)

	if err := c.val.Struct(env); err != nil {
		return denied(StatusInvalidRequest, validator.Describe(err))
	}

	key := newLeadDedupKey(env, normalized)
	first, err := c.dedup.Claim(ctx, key)
	if err != nil {
		return c.collaboratorFailure("claim dedup key", err)
	}
	if !first {
		return success(StatusDuplicateAcknowledged, uuid.Nil, "")
	}

	out := c.withLeadLock(ctx, LockKey(env.TenantID, normalized), c.settings.LockWait, func(ctx context.Context) Outcome {
		return c.newLeadLocked(ctx, log, env)
	})

	// A pass that may be re-driven must not be swallowed as a duplicate.
	if out.Kind == OutcomeRetryable || out.Kind == OutcomeFailed || out.RetryAt != nil {
		if err := c.dedup.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Error("conductor: failed to release dedup key", "error", err)
		}
	}
	return out
}

func (c *Conductor) newLeadLocked(ctx context.Context, log *logger.Logger, env domain.LeadEnvelope) Outcome {
	tenant, out, ok := c.resolveTenant(ctx, env.TenantID)
	if !ok {
		return out
	}

	count, err := c.tenants.CountLeadsSince(ctx, tenant.ID, domain.MonthStart(c.now()))
	if err != nil {
		return c.collaboratorFailure("count tenant leads", err)
	}
	if tenant.QuotaExceeded(count) {
		return denied(StatusMonthlyLeadLimitReached, errQuotaExhausted.Error())
	}

	now := c.now().UTC()
	lead := domain.Lead{
		TenantID:  tenant.ID,
		Phone:     env.Phone,
		FirstName: strings.TrimSpace(env.FirstName),
		LastName:  strings.TrimSpace(env.LastName),
		Email:     strings.TrimSpace(env.Email),
		Address:   strings.TrimSpace(env.Address),
		StateCode: env.StateCode,
		Timezone:  env.Timezone,
		Source:    env.Source,
		State:     domain.StateNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if category, ok := compliance.DetectEmergency(env.InboundText); ok {
		lead.IsEmergency = true
		lead.EmergencyCategory = category
	}

	optedOut, err := c.store.HasOptedOut(ctx, tenant.ID, env.Phone)
	if err != nil {
		return c.collaboratorFailure("check prior opt-out", err)
	}
	if optedOut {
		return c.complianceDenied(ctx, log, phaseConsent, lead, compliance.Result{
			Rule:   compliance.RuleOptOut,
			Reason: "phone previously opted out for this tenant",
		})
	}

	consent := domain.ConsentRecord{
		TenantID:  tenant.ID,
		Phone:     env.Phone,
		Type:      env.ConsentBasis,
		Source:    env.Source,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	replyToInbound := strings.TrimSpace(env.InboundText) != ""
	req := c.complianceRequest(lead, &consent, tenant)
	req.ReplyToInbound = replyToInbound
	req.FirstMessage = true
	if res := c.gate.Precheck(req); !res.Allowed {
		return c.complianceDenied(ctx, log, phasePrecheck, lead, res)
	}

	responder, ok := c.router.For(domain.StateNew)
	if !ok {
		return Outcome{Kind: OutcomeFailed, Status: StatusFailed, Err: errors.New("no responder for new leads")}
	}
	reply, err := responder.Respond(ctx, ports.ResponderInput{
		Lead:         lead,
		Tenant:       tenant,
		InboundText:  env.InboundText,
		FirstMessage: true,
	})
	if err != nil {
		return c.collaboratorFailure("generate first message", err)
	}

	req.Body = reply.Text
	req.Marketing = reply.Marketing
	if res := c.gate.Evaluate(req); !res.Allowed {
		return c.complianceDenied(ctx, log, phaseContent, lead, res)
	}
	log.ComplianceDecision(phaseContent, true, "", "")

	lead.ID = uuid.New()
	consent.ID = uuid.New()
	lead.ConsentID = &consent.ID
	lead.CurrentAgent = responder.Name()

	var sent ports.ProviderResult
	err = c.store.Transact(ctx, func(ctx context.Context, tx ports.LeadTx) error {
		count, err := tx.LockTenantLeadCount(ctx, tenant.ID, domain.MonthStart(now))
		if err != nil {
			return err
		}
		if tenant.QuotaExceeded(count) {
			return errQuotaExhausted
		}

		if err := tx.InsertConsent(ctx, consent); err != nil {
			return err
		}
		if err := tx.InsertLead(ctx, lead); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, domain.AuditEvent{
			ID:         uuid.New(),
			LeadID:     lead.ID,
			TenantID:   lead.TenantID,
			Phone:      lead.Phone,
			Type:       domain.AuditLeadCreated,
			ToState:    lead.State,
			Metadata:   map[string]any{"source": lead.Source, "consentBasis": string(consent.Type)},
			OccurredAt: now,
		}); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, domain.AuditEvent{
			ID:         uuid.New(),
			LeadID:     lead.ID,
			TenantID:   lead.TenantID,
			Phone:      lead.Phone,
			Type:       domain.AuditComplianceAllowed,
			FromState:  lead.State,
			Metadata:   map[string]any{"phase": phaseContent},
			OccurredAt: now,
		}); err != nil {
			return err
		}
		if replyToInbound {
			lead.RecordInbound(now)
			if err := tx.InsertMessage(ctx, newInboundMessage(lead, env.InboundText, "", now)); err != nil {
				return err
			}
		}

		if err := lead.TransitionTo(domain.StateIntakeSent, now); err != nil {
			return err
		}

		// Sending is the last fallible step before commit.
		res, err := c.transport.Send(ctx, ports.OutboundMessage{From: tenant.OutboundNumber, To: lead.Phone, Body: reply.Text})
		if err != nil {
			return err
		}
		sent = res

		lead.RecordOutbound(res.CostMicros+reply.CostMicros, !replyToInbound, now)
		lead.Score += reply.ScoreDelta
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return err
		}
		if err := tx.InsertMessage(ctx, newOutboundMessage(lead, responder.Name(), reply.Text, res, now)); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, sentAudit(lead, responder.Name(), reply, res, now)); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, transitionAudit(lead, "first_contact", now))
	})
	if errors.Is(err, errQuotaExhausted) {
		return denied(StatusMonthlyLeadLimitReached, err.Error())
	}
	if errors.Is(err, ports.ErrRecipientOptedOut) {
		return c.carrierOptOut(ctx, log, lead, consent, err)
	}
	if err != nil {
		if sent.MessageID != "" {
			log.Error("conductor: first message sent but lead was not persisted",
				"providerMessageId", sent.MessageID, "error", err)
		}
		return c.collaboratorFailure("persist new lead", err)
	}

	log = log.WithLead(lead.ID.String(), lead.TenantID.String())
	log.StateTransition(string(domain.StateNew), string(lead.State), "first_contact")

	c.bus.Publish(ctx, events.LeadCreated{
		BaseEvent:    events.NewBaseEvent(),
		LeadID:       lead.ID,
		TenantID:     lead.TenantID,
		Phone:        lead.Phone,
		Source:       lead.Source,
		ConsentBasis: string(consent.Type),
		IsEmergency:  lead.IsEmergency,
	})
	c.publishSent(ctx, lead, responder.Name(), sent)
	c.publishTransition(ctx, lead, "first_contact")

	return success(StatusIntakeSent, lead.ID, lead.State)
}

// carrierOptOut keeps a revoked consent record for a phone the carrier
// refuses to deliver to, so later leads for it are denied up front. No lead
// record exists yet.
func (c *Conductor) carrierOptOut(ctx context.Context, log *logger.Logger, lead domain.Lead, consent domain.ConsentRecord, cause error) Outcome {
	log.Warn("conductor: carrier reports recipient opted out", "error", cause)

	now := c.now().UTC()
	lead.ID = uuid.Nil
	lead.ConsentID = nil
	consent.OptOut(OptOutMethodCarrier, now)

	err := c.store.Transact(ctx, func(ctx context.Context, tx ports.LeadTx) error {
		if err := tx.InsertConsent(ctx, consent); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.AuditEvent{
			ID:         uuid.New(),
			TenantID:   lead.TenantID,
			Phone:      lead.Phone,
			Type:       domain.AuditOptOut,
			Metadata:   map[string]any{"method": OptOutMethodCarrier, "consentId": consent.ID.String()},
			OccurredAt: now,
		})
	})
	if err != nil {
		log.Error("conductor: carrier opt-out could not be persisted", "error", err)
		return c.collaboratorFailure("persist carrier opt-out", err)
	}

	return c.complianceDenied(ctx, log, phaseConsent, lead, compliance.Result{
		Rule:   compliance.RuleOptOut,
		Reason: "recipient opted out at the carrier",
	})
}

func (c *Conductor) publishSent(ctx context.Context, lead domain.Lead, agent string, res ports.ProviderResult) {
	c.bus.Publish(ctx, events.MessageSent{
		BaseEvent:         events.NewBaseEvent(),
		LeadID:            lead.ID,
		TenantID:          lead.TenantID,
		ProviderMessageID: res.MessageID,
		Agent:             agent,
		Segments:          res.Segments,
		CostMicros:        res.CostMicros,
	})
}

func (c *Conductor) publishTransition(ctx context.Context, lead domain.Lead, trigger string) {
	if lead.PreviousState == lead.State {
		return
	}
	c.bus.Publish(ctx, events.LeadStateChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		FromState: string(lead.PreviousState),
		ToState:   string(lead.State),
		Trigger:   trigger,
	})
}
