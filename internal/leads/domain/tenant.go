package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlanTier bounds a tenant's monthly lead volume.
type PlanTier string

const (
	PlanStarter    PlanTier = "starter"
	PlanGrowth     PlanTier = "growth"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// tierLeadLimits maps tiers to monthly lead limits; 0 means unlimited.
var tierLeadLimits = map[PlanTier]int{
	PlanStarter:    100,
	PlanGrowth:     500,
	PlanPro:        0,
	PlanEnterprise: 0,
}

// Tenant is a contractor business on whose behalf leads are contacted.
// Tenants are read-only snapshots from the conductor's point of view.
type Tenant struct {
	ID             uuid.UUID
	BusinessName   string
	OutboundNumber string
	PlanTier       PlanTier
	// MonthlyLeadLimit overrides the tier default when positive.
	MonthlyLeadLimit int
	Timezone         string
	Active           bool
	CreatedAt        time.Time
}

// LeadQuota returns the monthly limit. Zero means unlimited.
func (t Tenant) LeadQuota() int {
	if t.MonthlyLeadLimit > 0 {
		return t.MonthlyLeadLimit
	}
	limit, ok := tierLeadLimits[t.PlanTier]
	if !ok {
		return tierLeadLimits[PlanStarter]
	}
	return limit
}

// QuotaExceeded reports whether count leads this period exhausts the quota.
func (t Tenant) QuotaExceeded(count int) bool {
	limit := t.LeadQuota()
	return limit > 0 && count >= limit
}

// MonthStart returns the first instant of now's calendar month in UTC.
func MonthStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
