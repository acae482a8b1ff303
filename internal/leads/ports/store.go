// Package ports defines the interfaces that the leads domain requires from
// external systems. These interfaces form the Anti-Corruption Layer (ACL),
// ensuring the conductor only knows about the data it needs, formatted
// the way it wants.
package ports

import (
	"context"
	"time"

	"leadlock_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// LeadStore reads lead state and opens write transactions.
// Reads return an apperr NotFound error when the row does not exist.
type LeadStore interface {
	GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
	GetConsent(ctx context.Context, tenantID, consentID uuid.UUID) (domain.ConsentRecord, error)
	// HasOptedOut reports whether any consent for phone under tenantID was revoked.
	HasOptedOut(ctx context.Context, tenantID uuid.UUID, phone string) (bool, error)
	// Transact runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise.
	Transact(ctx context.Context, fn func(ctx context.Context, tx LeadTx) error) error
}

// LeadTx is the write side of a LeadStore transaction.
type LeadTx interface {
	// LockTenantLeadCount serializes lead creation per tenant for the rest of
	// the transaction and returns the tenant's lead count since since.
	LockTenantLeadCount(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
	InsertConsent(ctx context.Context, consent domain.ConsentRecord) error
	InsertLead(ctx context.Context, lead domain.Lead) error
	UpdateLead(ctx context.Context, lead domain.Lead) error
	UpdateConsent(ctx context.Context, consent domain.ConsentRecord) error
	InsertMessage(ctx context.Context, msg domain.Message) error
	// CancelPendingFollowUps bulk-cancels scheduled work for a lead and
	// returns how many items were cancelled.
	CancelPendingFollowUps(ctx context.Context, leadID uuid.UUID) (int64, error)
	AppendAudit(ctx context.Context, event domain.AuditEvent) error
}

// AuditSink records compliance decisions taken outside a write transaction.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}
