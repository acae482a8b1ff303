package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadlock_backend/internal/leads"
	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Conductor is the part of the lead conductor the worker drives.
type Conductor interface {
	HandleNewLead(ctx context.Context, env domain.LeadEnvelope) leads.Outcome
	HandleInboundReply(ctx context.Context, in domain.InboundReply) leads.Outcome
	HandleOptOut(ctx context.Context, req leads.OptOutRequest) leads.Outcome
}

// Deferrer schedules a task for a later instant.
type Deferrer interface {
	Defer(ctx context.Context, task *asynq.Task, runAt time.Time) error
}

// Processor turns conductor outcomes into queue decisions: acknowledged,
// deferred to the compliance retry time, retried with backoff, or sent
// straight to the archive.
type Processor struct {
	conductor Conductor
	deferrer  Deferrer
	log       *logger.Logger
}

func NewProcessor(conductor Conductor, deferrer Deferrer, log *logger.Logger) *Processor {
	return &Processor{conductor: conductor, deferrer: deferrer, log: log}
}

// Register binds the task handlers to mux.
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskNewLead, p.HandleNewLead)
	mux.HandleFunc(TaskInboundReply, p.HandleInboundReply)
	mux.HandleFunc(TaskOptOut, p.HandleOptOut)
}

func (p *Processor) HandleNewLead(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseNewLeadPayload(task)
	if err != nil {
		return malformed(task, err)
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return malformed(task, err)
	}

	out := p.conductor.HandleNewLead(ctx, domain.LeadEnvelope{
		TenantID:     tenantID,
		Phone:        payload.Phone,
		FirstName:    payload.FirstName,
		LastName:     payload.LastName,
		Email:        payload.Email,
		Address:      payload.Address,
		StateCode:    payload.StateCode,
		Timezone:     payload.Timezone,
		Source:       payload.Source,
		ConsentBasis: domain.ConsentType(payload.ConsentBasis),
		InboundText:  payload.InboundText,
		ReceivedAt:   payload.ReceivedAt,
	})
	return p.settle(ctx, task, out)
}

func (p *Processor) HandleInboundReply(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseInboundReplyPayload(task)
	if err != nil {
		return malformed(task, err)
	}
	tenantID, leadID, err := parseIDs(payload.TenantID, payload.LeadID)
	if err != nil {
		return malformed(task, err)
	}

	out := p.conductor.HandleInboundReply(ctx, domain.InboundReply{
		TenantID:          tenantID,
		LeadID:            leadID,
		Text:              payload.Text,
		ProviderMessageID: payload.ProviderMessageID,
		ReceivedAt:        payload.ReceivedAt,
	})
	return p.settle(ctx, task, out)
}

func (p *Processor) HandleOptOut(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOptOutPayload(task)
	if err != nil {
		return malformed(task, err)
	}
	tenantID, leadID, err := parseIDs(payload.TenantID, payload.LeadID)
	if err != nil {
		return malformed(task, err)
	}

	out := p.conductor.HandleOptOut(ctx, leads.OptOutRequest{
		TenantID:          tenantID,
		LeadID:            leadID,
		Method:            payload.Method,
		Text:              payload.Text,
		ProviderMessageID: payload.ProviderMessageID,
	})
	return p.settle(ctx, task, out)
}

func (p *Processor) settle(ctx context.Context, task *asynq.Task, out leads.Outcome) error {
	switch {
	case out.Kind == leads.OutcomeDenied && out.RetryAt != nil:
		if err := p.deferrer.Defer(ctx, task, *out.RetryAt); err != nil {
			// Failing here retries the whole pass, which re-derives RetryAt.
			return fmt.Errorf("defer %s until %s: %w", task.Type(), out.RetryAt.Format(time.RFC3339), err)
		}
		p.log.Info("scheduler: task deferred", "type", task.Type(), "rule", out.Rule, "runAt", out.RetryAt.UTC())
		return nil
	case out.Kind == leads.OutcomeRetryable:
		return fmt.Errorf("%s %s: %w", task.Type(), out.Status, outcomeErr(out))
	case out.Kind == leads.OutcomeFailed:
		return fmt.Errorf("%s %s: %v: %w", task.Type(), out.Status, outcomeErr(out), asynq.SkipRetry)
	default:
		return nil
	}
}

func outcomeErr(out leads.Outcome) error {
	if out.Err != nil {
		return out.Err
	}
	return errors.New(out.Reason)
}

func malformed(task *asynq.Task, err error) error {
	return fmt.Errorf("malformed %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
}

func parseIDs(tenant, lead string) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("tenantId: %w", err)
	}
	leadID, err := uuid.Parse(lead)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("leadId: %w", err)
	}
	return tenantID, leadID, nil
}
