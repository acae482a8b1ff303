// Package repository is the PostgreSQL implementation of the lead store,
// its write transactions and the audit trail.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	leadNotFoundMsg    = "lead not found"
	consentNotFoundMsg = "consent not found"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

var (
	_ ports.LeadStore = (*Repository)(nil)
	_ ports.AuditSink = (*Repository)(nil)
	_ ports.LeadTx    = (*leadTx)(nil)
)

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `
	id, tenant_id, phone, first_name, last_name, email, address, state_code, timezone, source,
	state, previous_state, current_agent, conversation_turns, score,
	cold_outreach_count, is_emergency, emergency_category, consent_id,
	messages_sent, messages_received, cost_micros,
	created_at, updated_at, last_inbound_at, last_outbound_at, next_follow_up_at`

// GetLead loads a lead scoped to its tenant.
func (r *Repository) GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND tenant_id = $2`, leadID, tenantID)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, apperr.NotFound(leadNotFoundMsg)
	}
	if err != nil {
		return domain.Lead{}, fmt.Errorf("failed to load lead: %w", err)
	}
	return lead, nil
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		l                                            domain.Lead
		firstName, lastName, email, address, stateCd *string
		timezone, previous, agent, emergencyCategory *string
		state                                        string
	)
	err := row.Scan(
		&l.ID, &l.TenantID, &l.Phone, &firstName, &lastName, &email, &address, &stateCd, &timezone, &l.Source,
		&state, &previous, &agent, &l.ConversationTurns, &l.Score,
		&l.ColdOutreachCount, &l.IsEmergency, &emergencyCategory, &l.ConsentID,
		&l.MessagesSent, &l.MessagesReceived, &l.CostMicros,
		&l.CreatedAt, &l.UpdatedAt, &l.LastInboundAt, &l.LastOutboundAt, &l.NextFollowUpAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}
	l.FirstName = deref(firstName)
	l.LastName = deref(lastName)
	l.Email = deref(email)
	l.Address = deref(address)
	l.StateCode = deref(stateCd)
	l.Timezone = deref(timezone)
	l.State = domain.State(state)
	l.PreviousState = domain.State(deref(previous))
	l.CurrentAgent = deref(agent)
	l.EmergencyCategory = deref(emergencyCategory)
	return l, nil
}

// GetConsent loads a consent record scoped to its tenant.
func (r *Repository) GetConsent(ctx context.Context, tenantID, consentID uuid.UUID) (domain.ConsentRecord, error) {
	var (
		c            domain.ConsentRecord
		consentType  string
		optOutMethod *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, phone, consent_type, source, is_active, opted_out, opt_out_method,
			opted_out_at, created_at, updated_at
		FROM consent_records
		WHERE id = $1 AND tenant_id = $2
	`, consentID, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Phone, &consentType, &c.Source, &c.Active, &c.OptedOut, &optOutMethod,
		&c.OptedOutAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConsentRecord{}, apperr.NotFound(consentNotFoundMsg)
	}
	if err != nil {
		return domain.ConsentRecord{}, fmt.Errorf("failed to load consent: %w", err)
	}
	c.Type = domain.ConsentType(consentType)
	c.OptOutMethod = deref(optOutMethod)
	return c, nil
}

// HasOptedOut reports whether any consent for the phone was revoked under the tenant.
func (r *Repository) HasOptedOut(ctx context.Context, tenantID uuid.UUID, phone string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM consent_records
			WHERE tenant_id = $1 AND phone = $2 AND opted_out = true
		)
	`, tenantID, phone).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check opt-out: %w", err)
	}
	return exists, nil
}

// Transact runs fn in a single transaction.
func (r *Repository) Transact(ctx context.Context, fn func(ctx context.Context, tx ports.LeadTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Unavailable("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &leadTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Unavailable("failed to commit transaction", err)
	}
	return nil
}

// Record appends an audit event outside any transaction.
func (r *Repository) Record(ctx context.Context, event domain.AuditEvent) error {
	return appendAudit(ctx, r.pool, event)
}

type leadTx struct {
	q querier
}

func (t *leadTx) InsertConsent(ctx context.Context, c domain.ConsentRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO consent_records (
			id, tenant_id, phone, consent_type, source, is_active, opted_out, opt_out_method,
			opted_out_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.TenantID, c.Phone, string(c.Type), c.Source, c.Active, c.OptedOut, nullable(c.OptOutMethod),
		c.OptedOutAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert consent: %w", err)
	}
	return nil
}

func (t *leadTx) UpdateConsent(ctx context.Context, c domain.ConsentRecord) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE consent_records SET
			is_active = $3, opted_out = $4, opt_out_method = $5, opted_out_at = $6, updated_at = $7
		WHERE id = $1 AND tenant_id = $2`,
		c.ID, c.TenantID, c.Active, c.OptedOut, nullable(c.OptOutMethod), c.OptedOutAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update consent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(consentNotFoundMsg)
	}
	return nil
}

func (t *leadTx) InsertLead(ctx context.Context, l domain.Lead) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27)`,
		l.ID, l.TenantID, l.Phone, nullable(l.FirstName), nullable(l.LastName), nullable(l.Email),
		nullable(l.Address), nullable(l.StateCode), nullable(l.Timezone), l.Source,
		string(l.State), nullable(string(l.PreviousState)), nullable(l.CurrentAgent), l.ConversationTurns, l.Score,
		l.ColdOutreachCount, l.IsEmergency, nullable(l.EmergencyCategory), l.ConsentID,
		l.MessagesSent, l.MessagesReceived, l.CostMicros,
		l.CreatedAt, l.UpdatedAt, l.LastInboundAt, l.LastOutboundAt, l.NextFollowUpAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

// UpdateLead writes the mutable conversation fields. Identity and contact
// details are immutable once the lead exists.
func (t *leadTx) UpdateLead(ctx context.Context, l domain.Lead) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE leads SET
			state = $3, previous_state = $4, current_agent = $5, conversation_turns = $6, score = $7,
			cold_outreach_count = $8, is_emergency = $9, emergency_category = $10,
			messages_sent = $11, messages_received = $12, cost_micros = $13,
			last_inbound_at = $14, last_outbound_at = $15, next_follow_up_at = $16, updated_at = $17
		WHERE id = $1 AND tenant_id = $2`,
		l.ID, l.TenantID,
		string(l.State), nullable(string(l.PreviousState)), nullable(l.CurrentAgent), l.ConversationTurns, l.Score,
		l.ColdOutreachCount, l.IsEmergency, nullable(l.EmergencyCategory),
		l.MessagesSent, l.MessagesReceived, l.CostMicros,
		l.LastInboundAt, l.LastOutboundAt, l.NextFollowUpAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(leadNotFoundMsg)
	}
	return nil
}

func (t *leadTx) InsertMessage(ctx context.Context, m domain.Message) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO lead_messages (
			id, lead_id, tenant_id, direction, body, agent, provider_message_id, segments, cost_micros, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.LeadID, m.TenantID, string(m.Direction), m.Body, nullable(m.Agent),
		nullable(m.ProviderMessageID), m.Segments, m.CostMicros, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (t *leadTx) LockTenantLeadCount(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	var locked uuid.UUID
	err := t.q.QueryRow(ctx, `SELECT id FROM tenants WHERE id = $1 FOR UPDATE`, tenantID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.NotFound("tenant not found")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock tenant: %w", err)
	}

	var count int
	if err := t.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM leads WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, since,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tenant leads: %w", err)
	}
	return count, nil
}

func (t *leadTx) CancelPendingFollowUps(ctx context.Context, leadID uuid.UUID) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE follow_up_tasks
		SET status = 'cancelled', cancelled_at = $2
		WHERE lead_id = $1 AND status = 'pending'`,
		leadID, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel follow-ups: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *leadTx) AppendAudit(ctx context.Context, event domain.AuditEvent) error {
	return appendAudit(ctx, t.q, event)
}

func appendAudit(ctx context.Context, q querier, e domain.AuditEvent) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	var leadID *uuid.UUID
	if e.LeadID != uuid.Nil {
		leadID = &e.LeadID
	}
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err = q.Exec(ctx, `
		INSERT INTO lead_events (
			id, lead_id, tenant_id, phone, event_type, rule, from_state, to_state, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, leadID, e.TenantID, nullable(e.Phone), e.Type, nullable(e.Rule),
		nullable(string(e.FromState)), nullable(string(e.ToState)), nullable(e.Reason), raw, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
