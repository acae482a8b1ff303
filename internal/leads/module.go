// Package leads provides the lead conductor bounded context.
// This file defines the module that assembles the conductor from its
// storage, transport, locking and compliance collaborators.
package leads

import (
	"context"
	"errors"
	"time"

	"leadlock_backend/internal/compliance"
	"leadlock_backend/internal/events"
	"leadlock_backend/internal/leads/agent"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/internal/leads/repository"
	"leadlock_backend/internal/sms"
	"leadlock_backend/internal/tenants"
	"leadlock_backend/platform/config"
	"leadlock_backend/platform/dedup"
	"leadlock_backend/platform/locks"
	"leadlock_backend/platform/logger"
	"leadlock_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ModuleConfig is everything the module reads from configuration.
type ModuleConfig interface {
	config.ConductorConfig
	config.ComplianceConfig
	config.SMSConfig
	config.AIConfig
}

// Module is the lead conductor bounded context.
type Module struct {
	conductor *Conductor
	tenants   *tenants.Directory
	locks     locks.Manager
}

// NewModule creates the conductor and all of its collaborators. rdb may be
// nil only when the lock backend is "local".
func NewModule(pool *pgxpool.Pool, rdb *redis.Client, eventBus events.Bus, val *validator.Validator, cfg ModuleConfig, log *logger.Logger) (*Module, error) {
	if pool == nil {
		return nil, errors.New("leads: database pool is required")
	}

	lockManager, suppressor, err := newCoordination(rdb, cfg, log)
	if err != nil {
		return nil, err
	}

	calendar, err := compliance.LoadCalendar(cfg.GetHolidayCalendarPath())
	if err != nil {
		return nil, err
	}
	if calendar.Stale(time.Now()) {
		log.Warn("compliance: holiday calendar is stale", "lastYear", calendar.LastYear())
	}
	gate, err := compliance.NewGatekeeper(compliance.Options{
		ColdOutreachLimit: cfg.GetColdOutreachLimit(),
		DefaultTimezone:   cfg.GetDefaultTimezone(),
		Calendar:          calendar,
	})
	if err != nil {
		return nil, err
	}

	router, err := NewRouter(agent.NewResponders(cfg, log))
	if err != nil {
		return nil, err
	}

	repo := repository.New(pool)
	directory := tenants.NewDirectory(tenants.NewRepository(pool), cfg.GetTenantCacheTTL(), log)

	conductor, err := NewConductor(Deps{
		Store:      repo,
		Tenants:    directory,
		Transport:  newTransport(cfg, log),
		Audit:      repo,
		Locks:      lockManager,
		Dedup:      suppressor,
		Gatekeeper: gate,
		Router:     router,
		Bus:        eventBus,
		Validator:  val,
		Log:        log,
	}, SettingsFrom(cfg))
	if err != nil {
		return nil, err
	}

	subscribeActivityLog(eventBus, log)

	return &Module{conductor: conductor, tenants: directory, locks: lockManager}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Conductor returns the conductor for the worker.
func (m *Module) Conductor() *Conductor {
	return m.conductor
}

// Tenants returns the cached tenant directory.
func (m *Module) Tenants() *tenants.Directory {
	return m.tenants
}

// Locks returns the lock manager the conductor serializes on.
func (m *Module) Locks() locks.Manager {
	return m.locks
}

func newCoordination(rdb *redis.Client, cfg config.ConductorConfig, log *logger.Logger) (locks.Manager, dedup.Suppressor, error) {
	switch cfg.GetLockBackend() {
	case "local":
		log.Warn("leads: using in-process locks and dedup, do not run more than one worker")
		return locks.NewLocalManager(), dedup.NewMemorySuppressor(cfg.GetDedupWindow()), nil
	case "redis", "":
		if rdb == nil {
			return nil, nil, errors.New("leads: redis lock backend requires a redis client")
		}
		return locks.NewRedisManager(rdb, cfg.GetLockLeaseTTL(), log), dedup.NewRedisSuppressor(rdb, cfg.GetDedupWindow()), nil
	default:
		return nil, nil, errors.New("leads: unknown lock backend " + cfg.GetLockBackend())
	}
}

func newTransport(cfg config.SMSConfig, log *logger.Logger) ports.Transport {
	if client := sms.NewClient(cfg, log); client != nil {
		return client
	}
	log.Warn("sms: twilio credentials not configured, messages will not be delivered")
	return sms.NewDryRun(log)
}

func subscribeActivityLog(bus events.Bus, log *logger.Logger) {
	bus.Subscribe(events.MessageSent{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.MessageSent)
		if !ok {
			return nil
		}
		log.Info("leads: message sent", "leadId", e.LeadID, "tenantId", e.TenantID, "agent", e.Agent, "segments", e.Segments, "costMicros", e.CostMicros)
		return nil
	}))

	bus.Subscribe(events.LeadOptedOut{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadOptedOut)
		if !ok {
			return nil
		}
		log.Info("leads: lead opted out", "leadId", e.LeadID, "tenantId", e.TenantID, "method", e.Method, "cancelledFollowUps", e.CancelledFollowUps)
		return nil
	}))
}
