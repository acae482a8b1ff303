// Package tenants resolves tenant snapshots and their monthly lead volume.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tenantNotFoundMsg = "tenant not found"

// Repository reads tenants from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error) {
	var (
		t        domain.Tenant
		tier     string
		timezone *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, business_name, outbound_number, plan_tier, monthly_lead_limit, timezone, is_active, created_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.BusinessName, &t.OutboundNumber, &tier, &t.MonthlyLeadLimit, &timezone, &t.Active, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tenant{}, apperr.NotFound(tenantNotFoundMsg)
	}
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("failed to load tenant: %w", err)
	}
	t.PlanTier = domain.PlanTier(tier)
	if timezone != nil {
		t.Timezone = *timezone
	}
	return t, nil
}

func (r *Repository) CountLeadsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM leads WHERE tenant_id = $1 AND created_at >= $2
	`, tenantID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tenant leads: %w", err)
	}
	return count, nil
}
