package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadlock_backend/internal/compliance"
	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/apperr"
	"leadlock_backend/platform/logger"
	"leadlock_backend/platform/sanitize"
	"leadlock_backend/platform/validator"
)

// HandleInboundReply answers a message from an existing lead with the
// responder mapped to the lead's current state. Opt-out keywords are diverted
// to the opt-out flow before any routing happens.
func (c *Conductor) HandleInboundReply(ctx context.Context, in domain.InboundReply) Outcome {
	start := c.now()
	log := c.log.WithContext(ctx).WithLead(in.LeadID.String(), in.TenantID.String())
	in.Text = sanitize.Text(in.Text)

	var out Outcome
	if compliance.IsStopKeyword(in.Text) {
		out = c.optOut(ctx, log, OptOutRequest{
			TenantID:          in.TenantID,
			LeadID:            in.LeadID,
			Method:            OptOutMethodKeyword,
			Text:              in.Text,
			ProviderMessageID: in.ProviderMessageID,
		})
	} else {
		out = c.handleInboundReply(ctx, log, in)
	}

	out.Latency = c.now().Sub(start)
	c.logOutcome(log, "inbound_reply", out)
	return out
}

func (c *Conductor) handleInboundReply(ctx context.Context, log *logger.Logger, in domain.InboundReply) Outcome {
	if err := c.val.Struct(in); err != nil {
		return denied(StatusInvalidRequest, validator.Describe(err))
	}
	if strings.TrimSpace(in.Text) == "" {
		return denied(StatusInvalidRequest, "Text:required")
	}

	// The phone never changes, so reading it before the lock is safe.
	current, err := c.store.GetLead(ctx, in.TenantID, in.LeadID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return denied(StatusLeadNotFound, "unknown lead")
		}
		return c.collaboratorFailure("load lead", err)
	}

	var key string
	if in.ProviderMessageID != "" {
		key = replyDedupKey(in.TenantID, in.ProviderMessageID)
		first, err := c.dedup.Claim(ctx, key)
		if err != nil {
			return c.collaboratorFailure("claim dedup key", err)
		}
		if !first {
			return success(StatusDuplicateAcknowledged, current.ID, current.State)
		}
	}

	out := c.withLeadLock(ctx, LockKey(current.TenantID, current.Phone), c.settings.LockWait, func(ctx context.Context) Outcome {
		return c.replyLocked(ctx, log, in)
	})

	if key != "" && (out.Kind == OutcomeRetryable || out.Kind == OutcomeFailed || out.RetryAt != nil) {
		if err := c.dedup.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Error("conductor: failed to release dedup key", "error", err)
		}
	}
	return out
}

func (c *Conductor) replyLocked(ctx context.Context, log *logger.Logger, in domain.InboundReply) Outcome {
	// Reload under the lock: a concurrent pass may have moved the lead.
	lead, err := c.store.GetLead(ctx, in.TenantID, in.LeadID)
	if err != nil {
		return c.collaboratorFailure("reload lead", err)
	}
	if lead.State.IsTerminal() {
		return Outcome{
			Kind:   OutcomeDenied,
			Status: StatusComplianceBlocked,
			LeadID: lead.ID,
			State:  lead.State,
			Rule:   compliance.RuleOptOut,
			Reason: "lead has opted out",
		}
	}
	if lead.ConversationTurns >= c.settings.MaxTurns {
		return Outcome{
			Kind:   OutcomeDenied,
			Status: StatusTurnLimitReached,
			LeadID: lead.ID,
			State:  lead.State,
			Reason: fmt.Sprintf("conversation reached %d turns", c.settings.MaxTurns),
		}
	}

	tenant, out, ok := c.resolveTenant(ctx, lead.TenantID)
	if !ok {
		out.LeadID, out.State = lead.ID, lead.State
		return out
	}

	var consent *domain.ConsentRecord
	if lead.ConsentID != nil {
		rec, err := c.store.GetConsent(ctx, lead.TenantID, *lead.ConsentID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return c.collaboratorFailure("load consent", err)
		}
		if err == nil {
			consent = &rec
		}
	}

	now := c.now().UTC()
	if category, ok := compliance.DetectEmergency(in.Text); ok && !lead.IsEmergency {
		lead.IsEmergency = true
		lead.EmergencyCategory = category
	}

	responder, ok := c.router.For(lead.State)
	if !ok {
		return Outcome{Kind: OutcomeFailed, Status: StatusFailed, LeadID: lead.ID, State: lead.State,
			Err: fmt.Errorf("no responder for state %s", lead.State)}
	}

	reply, err := responder.Respond(ctx, ports.ResponderInput{Lead: lead, Tenant: tenant, InboundText: in.Text})
	if err != nil {
		out := c.collaboratorFailure("generate reply", err)
		out.LeadID, out.State = lead.ID, lead.State
		return out
	}

	next := reply.NextState
	if next != "" && next != lead.State {
		if err := domain.ValidateTransition(lead.State, next); err != nil {
			log.Error("conductor: responder proposed illegal transition",
				"agent", responder.Name(), "from", lead.State, "to", next)
			return Outcome{Kind: OutcomeFailed, Status: StatusIllegalTransition, LeadID: lead.ID, State: lead.State,
				Reason: err.Error(), Err: err}
		}
	}

	req := c.complianceRequest(lead, consent, tenant)
	req.ReplyToInbound = true
	req.Body = reply.Text
	req.Marketing = reply.Marketing
	if res := c.gate.Evaluate(req); !res.Allowed {
		return c.complianceDenied(ctx, log, phaseReply, lead, res)
	}
	log.ComplianceDecision(phaseReply, true, "", "")

	inbound := newInboundMessage(lead, in.Text, in.ProviderMessageID, now)
	prior := lead.State
	var sent ports.ProviderResult
	err = c.store.Transact(ctx, func(ctx context.Context, tx ports.LeadTx) error {
		lead.RecordInbound(now)
		if err := tx.InsertMessage(ctx, inbound); err != nil {
			return err
		}
		if next != "" && next != lead.State {
			if err := lead.TransitionTo(next, now); err != nil {
				return err
			}
		}

		res, err := c.transport.Send(ctx, ports.OutboundMessage{From: tenant.OutboundNumber, To: lead.Phone, Body: reply.Text})
		if err != nil {
			return err
		}
		sent = res

		lead.RecordOutbound(res.CostMicros+reply.CostMicros, false, now)
		lead.ConversationTurns++
		lead.Score += reply.ScoreDelta
		lead.CurrentAgent = responder.Name()
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return err
		}
		if err := tx.InsertMessage(ctx, newOutboundMessage(lead, responder.Name(), reply.Text, res, now)); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, sentAudit(lead, responder.Name(), reply, res, now)); err != nil {
			return err
		}
		if lead.State != prior {
			return tx.AppendAudit(ctx, transitionAudit(lead, "reply:"+responder.Name(), now))
		}
		return nil
	})
	if errors.Is(err, ports.ErrRecipientOptedOut) {
		log.Warn("conductor: carrier reports recipient opted out", "error", err)
		return c.optOutLocked(ctx, log, OptOutRequest{
			TenantID:          in.TenantID,
			LeadID:            in.LeadID,
			Method:            OptOutMethodCarrier,
			Text:              in.Text,
			ProviderMessageID: in.ProviderMessageID,
		})
	}
	if err != nil {
		if sent.MessageID != "" {
			log.Error("conductor: reply sent but lead was not persisted",
				"providerMessageId", sent.MessageID, "error", err)
		}
		out := c.collaboratorFailure("persist reply", err)
		out.LeadID, out.State = in.LeadID, prior
		return out
	}

	if lead.State != prior {
		log.StateTransition(string(prior), string(lead.State), "reply")
		c.publishTransition(ctx, lead, "reply:"+responder.Name())
	}
	c.publishSent(ctx, lead, responder.Name(), sent)

	return success(string(lead.State), lead.ID, lead.State)
}
