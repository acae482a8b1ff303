package leads

import (
	"context"

	"leadlock_backend/internal/events"
	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/apperr"
	"leadlock_backend/platform/logger"

	"github.com/google/uuid"
)

// Opt-out methods recorded on the consent record.
const (
	OptOutMethodKeyword = "sms_keyword"
	OptOutMethodManual  = "manual"
	OptOutMethodCarrier = "carrier"
)

// OptOutRequest revokes a lead's consent.
type OptOutRequest struct {
	TenantID uuid.UUID
	LeadID   uuid.UUID
	Method   string
	// Text is the triggering message, stored as an inbound message when set.
	Text              string
	ProviderMessageID string
}

// HandleOptOut moves a lead to opted_out, revokes its consent and cancels
// pending follow-ups in one transaction. Repeating it is a no-op success.
func (c *Conductor) HandleOptOut(ctx context.Context, req OptOutRequest) Outcome {
	start := c.now()
	log := c.log.WithContext(ctx).WithLead(req.LeadID.String(), req.TenantID.String())

	out := c.optOut(ctx, log, req)
	out.Latency = c.now().Sub(start)
	c.logOutcome(log, "opt_out", out)
	return out
}

func (c *Conductor) optOut(ctx context.Context, log *logger.Logger, req OptOutRequest) Outcome {
	if req.TenantID == uuid.Nil || req.LeadID == uuid.Nil {
		return denied(StatusInvalidRequest, "tenant and lead are required")
	}
	if req.Method == "" {
		req.Method = OptOutMethodManual
	}

	current, err := c.store.GetLead(ctx, req.TenantID, req.LeadID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return denied(StatusLeadNotFound, "unknown lead")
		}
		return c.collaboratorFailure("load lead", err)
	}

	// Opt-out skips the responder path but still serializes with it, with a
	// longer wait so it is not starved by a slow reply.
	return c.withLeadLock(ctx, LockKey(current.TenantID, current.Phone), c.settings.OptOutLockWait, func(ctx context.Context) Outcome {
		return c.optOutLocked(ctx, log, req)
	})
}

func (c *Conductor) optOutLocked(ctx context.Context, log *logger.Logger, req OptOutRequest) Outcome {
	lead, err := c.store.GetLead(ctx, req.TenantID, req.LeadID)
	if err != nil {
		return c.collaboratorFailure("reload lead", err)
	}
	if lead.State == domain.StateOptedOut {
		return success(StatusOptedOut, lead.ID, lead.State)
	}

	var consent *domain.ConsentRecord
	if lead.ConsentID != nil {
		rec, err := c.store.GetConsent(ctx, lead.TenantID, *lead.ConsentID)
		switch {
		case err == nil:
			consent = &rec
		case apperr.Is(err, apperr.KindNotFound):
			log.Warn("conductor: opt-out for lead with dangling consent link", "consentId", *lead.ConsentID)
		default:
			return c.collaboratorFailure("load consent", err)
		}
	}

	now := c.now().UTC()
	prior := lead.State
	if err := lead.TransitionTo(domain.StateOptedOut, now); err != nil {
		return c.collaboratorFailure("opt out", err)
	}
	lead.CurrentAgent = ""
	lead.NextFollowUpAt = nil
	if req.Text != "" {
		lead.RecordInbound(now)
	}
	if consent != nil {
		consent.OptOut(req.Method, now)
	}

	var cancelled int64
	err = c.store.Transact(ctx, func(ctx context.Context, tx ports.LeadTx) error {
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return err
		}
		if consent != nil {
			if err := tx.UpdateConsent(ctx, *consent); err != nil {
				return err
			}
		}
		n, err := tx.CancelPendingFollowUps(ctx, lead.ID)
		if err != nil {
			return err
		}
		cancelled = n
		if req.Text != "" {
			if err := tx.InsertMessage(ctx, newInboundMessage(lead, req.Text, req.ProviderMessageID, now)); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, domain.AuditEvent{
			ID:        uuid.New(),
			LeadID:    lead.ID,
			TenantID:  lead.TenantID,
			Phone:     lead.Phone,
			Type:      domain.AuditOptOut,
			FromState: prior,
			ToState:   lead.State,
			Metadata: map[string]any{
				"method":             req.Method,
				"cancelledFollowUps": n,
				"consentRevoked":     consent != nil,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		// A lost opt-out is a compliance incident; it must never look like success.
		log.Error("conductor: opt-out could not be persisted", "error", err)
		out := c.collaboratorFailure("persist opt-out", err)
		out.LeadID, out.State = lead.ID, prior
		return out
	}

	log.StateTransition(string(prior), string(lead.State), "opt_out:"+req.Method)
	c.bus.Publish(ctx, events.LeadOptedOut{
		BaseEvent:          events.NewBaseEvent(),
		LeadID:             lead.ID,
		TenantID:           lead.TenantID,
		PreviousState:      string(prior),
		Method:             req.Method,
		CancelledFollowUps: cancelled,
	})
	c.publishTransition(ctx, lead, "opt_out")

	return success(StatusOptedOut, lead.ID, lead.State)
}
