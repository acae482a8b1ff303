package tenants

import (
	"context"
	"sync"
	"time"

	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	tenant    domain.Tenant
	expiresAt time.Time
}

// Directory caches tenant snapshots in front of a source directory.
// Concurrent misses for the same tenant share one lookup. Lead counts are
// never cached since the quota check must see the current month's volume.
type Directory struct {
	source ports.TenantDirectory
	log    *logger.Logger
	ttl    time.Duration
	now    func() time.Time

	group   singleflight.Group
	cacheMu sync.RWMutex
	cache   map[uuid.UUID]cacheEntry
}

var _ ports.TenantDirectory = (*Directory)(nil)

// NewDirectory wraps source with a cache. A non-positive ttl disables caching.
func NewDirectory(source ports.TenantDirectory, ttl time.Duration, log *logger.Logger) *Directory {
	return &Directory{
		source: source,
		log:    log,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[uuid.UUID]cacheEntry),
	}
}

func (d *Directory) GetTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error) {
	if t, ok := d.getFromCache(tenantID); ok {
		return t, nil
	}

	v, err, shared := d.group.Do(tenantID.String(), func() (any, error) {
		t, err := d.source.GetTenant(ctx, tenantID)
		if err != nil {
			return domain.Tenant{}, err
		}
		d.setCache(t)
		return t, nil
	})
	if err != nil {
		return domain.Tenant{}, err
	}
	if shared {
		d.log.Debug("tenants: shared tenant lookup", "tenantId", tenantID)
	}
	return v.(domain.Tenant), nil
}

func (d *Directory) CountLeadsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	return d.source.CountLeadsSince(ctx, tenantID, since)
}

// Invalidate drops a cached tenant, e.g. after a plan change.
func (d *Directory) Invalidate(tenantID uuid.UUID) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	delete(d.cache, tenantID)
}

func (d *Directory) getFromCache(id uuid.UUID) (domain.Tenant, bool) {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()

	entry, ok := d.cache[id]
	if !ok || d.now().After(entry.expiresAt) {
		return domain.Tenant{}, false
	}
	return entry.tenant, true
}

func (d *Directory) setCache(t domain.Tenant) {
	if d.ttl <= 0 {
		return
	}
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	d.cache[t.ID] = cacheEntry{tenant: t, expiresAt: d.now().Add(d.ttl)}
}
