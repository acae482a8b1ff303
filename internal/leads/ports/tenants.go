package ports

import (
	"context"
	"time"

	"leadlock_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// TenantDirectory resolves tenants and their lead volume.
type TenantDirectory interface {
	// GetTenant returns an apperr NotFound error for unknown tenants.
	GetTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error)
	// CountLeadsSince counts leads created for tenantID at or after since.
	CountLeadsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
}
