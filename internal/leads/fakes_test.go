package leads

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leadlock_backend/internal/compliance"
	"leadlock_backend/internal/events"
	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/apperr"
	"leadlock_backend/platform/dedup"
	"leadlock_backend/platform/locks"
	"leadlock_backend/platform/logger"
	"leadlock_backend/platform/validator"

	"github.com/google/uuid"
)

type memStore struct {
	mu        sync.Mutex
	leads     map[uuid.UUID]domain.Lead
	consents  map[uuid.UUID]domain.ConsentRecord
	messages  []domain.Message
	audits    []domain.AuditEvent
	followUps map[uuid.UUID]int
	// priorLeads are this period's leads created before the test started.
	priorLeads int

	failUpdateConsent error
	failUpdateLead    error
}

func newMemStore() *memStore {
	return &memStore{
		leads:     make(map[uuid.UUID]domain.Lead),
		consents:  make(map[uuid.UUID]domain.ConsentRecord),
		followUps: make(map[uuid.UUID]int),
	}
}

func (s *memStore) GetLead(_ context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.TenantID != tenantID {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	return l, nil
}

func (s *memStore) GetConsent(_ context.Context, tenantID, consentID uuid.UUID) (domain.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[consentID]
	if !ok || c.TenantID != tenantID {
		return domain.ConsentRecord{}, apperr.NotFound("consent not found")
	}
	return c, nil
}

func (s *memStore) HasOptedOut(_ context.Context, tenantID uuid.UUID, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.consents {
		if c.TenantID == tenantID && c.Phone == phone && c.OptedOut {
			return true, nil
		}
	}
	return false, nil
}

// Transact stages writes and applies them only when fn succeeds.
func (s *memStore) Transact(ctx context.Context, fn func(ctx context.Context, tx ports.LeadTx) error) error {
	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func (s *memStore) lead(id uuid.UUID) domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leads[id]
}

func (s *memStore) leadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

func (s *memStore) auditTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audits))
	for _, a := range s.audits {
		out = append(out, a.Type)
	}
	return out
}

func (s *memStore) transitions(leadID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.audits {
		if a.LeadID == leadID && a.Type == domain.AuditStateTransition {
			out = append(out, string(a.FromState)+"->"+string(a.ToState))
		}
	}
	return out
}

func (s *memStore) seedLead(t *testing.T, tenantID uuid.UUID, state domain.State, consentType domain.ConsentType) domain.Lead {
	t.Helper()
	consent := domain.ConsentRecord{
		ID:       uuid.New(),
		TenantID: tenantID,
		Phone:    "+12015550123",
		Type:     consentType,
		Source:   "web_form",
		Active:   true,
	}
	lead := domain.Lead{
		ID:                uuid.New(),
		TenantID:          tenantID,
		Phone:             consent.Phone,
		FirstName:         "Dana",
		StateCode:         "NY",
		Source:            "web_form",
		State:             state,
		PreviousState:     domain.StateIntakeSent,
		CurrentAgent:      "intake",
		ColdOutreachCount: 1,
		ConsentID:         &consent.ID,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents[consent.ID] = consent
	s.leads[lead.ID] = lead
	s.followUps[lead.ID] = 2
	return lead
}

type memTx struct {
	store *memStore
	ops   []func()
}

func (tx *memTx) InsertConsent(_ context.Context, c domain.ConsentRecord) error {
	tx.ops = append(tx.ops, func() { tx.store.consents[c.ID] = c })
	return nil
}

func (tx *memTx) InsertLead(_ context.Context, l domain.Lead) error {
	tx.ops = append(tx.ops, func() { tx.store.leads[l.ID] = l })
	return nil
}

func (tx *memTx) UpdateLead(_ context.Context, l domain.Lead) error {
	if tx.store.failUpdateLead != nil {
		return tx.store.failUpdateLead
	}
	tx.ops = append(tx.ops, func() { tx.store.leads[l.ID] = l })
	return nil
}

func (tx *memTx) UpdateConsent(_ context.Context, c domain.ConsentRecord) error {
	if tx.store.failUpdateConsent != nil {
		return tx.store.failUpdateConsent
	}
	tx.ops = append(tx.ops, func() { tx.store.consents[c.ID] = c })
	return nil
}

func (tx *memTx) InsertMessage(_ context.Context, m domain.Message) error {
	tx.ops = append(tx.ops, func() { tx.store.messages = append(tx.store.messages, m) })
	return nil
}

func (tx *memTx) LockTenantLeadCount(_ context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	n := tx.store.priorLeads
	for _, l := range tx.store.leads {
		if l.TenantID == tenantID && !l.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) CancelPendingFollowUps(_ context.Context, leadID uuid.UUID) (int64, error) {
	tx.store.mu.Lock()
	n := tx.store.followUps[leadID]
	tx.store.mu.Unlock()
	tx.ops = append(tx.ops, func() { tx.store.followUps[leadID] = 0 })
	return int64(n), nil
}

func (tx *memTx) AppendAudit(_ context.Context, e domain.AuditEvent) error {
	tx.ops = append(tx.ops, func() { tx.store.audits = append(tx.store.audits, e) })
	return nil
}

// Record makes memStore double as the out-of-transaction audit sink.
func (s *memStore) Record(_ context.Context, e domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

type fakeTenants struct {
	tenants map[uuid.UUID]domain.Tenant
	count   int
}

func (f *fakeTenants) GetTenant(_ context.Context, id uuid.UUID) (domain.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return domain.Tenant{}, apperr.NotFound("tenant not found")
	}
	return t, nil
}

func (f *fakeTenants) CountLeadsSince(context.Context, uuid.UUID, time.Time) (int, error) {
	return f.count, nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []ports.OutboundMessage
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg ports.OutboundMessage) (ports.ProviderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ports.ProviderResult{}, f.err
	}
	f.sent = append(f.sent, msg)
	return ports.ProviderResult{MessageID: fmt.Sprintf("SM%04d", len(f.sent)), Segments: 1, CostMicros: 7900}, nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type scriptedResponder struct {
	name  string
	reply ports.Reply
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (r *scriptedResponder) Name() string { return r.name }

func (r *scriptedResponder) Respond(ctx context.Context, _ ports.ResponderInput) (ports.Reply, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ports.Reply{}, ctx.Err()
		}
	}
	return r.reply, r.err
}

// countingLocks records acquisitions on top of a real manager.
type countingLocks struct {
	locks.Manager
	acquired atomic.Int32
}

func (c *countingLocks) Acquire(ctx context.Context, key string, wait time.Duration) (locks.Lease, error) {
	c.acquired.Add(1)
	return c.Manager.Acquire(ctx, key, wait)
}

type harness struct {
	conductor  *Conductor
	store      *memStore
	tenants    *fakeTenants
	transport  *fakeTransport
	locks      *countingLocks
	dedup      *dedup.MemorySuppressor
	responders map[domain.State]*scriptedResponder
	tenant     domain.Tenant
	now        time.Time
}

const intakeText = "Hi Dana, this is Acme Plumbing. When is a good time for a visit? Reply STOP to opt out."

func newHarness(t *testing.T) *harness {
	t.Helper()

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	h := &harness{
		store:      newMemStore(),
		transport:  &fakeTransport{},
		locks:      &countingLocks{Manager: locks.NewLocalManager()},
		dedup:      dedup.NewMemorySuppressor(10 * time.Minute),
		responders: make(map[domain.State]*scriptedResponder),
		now:        time.Date(2026, 3, 2, 10, 0, 0, 0, ny),
	}
	h.tenant = domain.Tenant{
		ID:             uuid.New(),
		BusinessName:   "Acme Plumbing",
		OutboundNumber: "+16505550100",
		PlanTier:       domain.PlanGrowth,
		Active:         true,
	}
	h.tenants = &fakeTenants{tenants: map[uuid.UUID]domain.Tenant{h.tenant.ID: h.tenant}}

	routes := make(map[domain.State]ports.Responder)
	for _, state := range domain.NonTerminalStates() {
		r := &scriptedResponder{name: string(state), reply: ports.Reply{Text: "Thanks, we'll follow up shortly."}}
		h.responders[state] = r
		routes[state] = r
	}
	h.responders[domain.StateNew].name = "intake"
	h.responders[domain.StateNew].reply = ports.Reply{Text: intakeText}

	router, err := NewRouter(routes)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	gate, err := compliance.NewGatekeeper(compliance.Options{
		ColdOutreachLimit: compliance.DefaultColdOutreachLimit,
		DefaultTimezone:   "America/New_York",
	})
	if err != nil {
		t.Fatalf("gatekeeper: %v", err)
	}

	c, err := NewConductor(Deps{
		Store:      h.store,
		Tenants:    h.tenants,
		Transport:  h.transport,
		Audit:      h.store,
		Locks:      h.locks,
		Dedup:      h.dedup,
		Gatekeeper: gate,
		Router:     router,
		Bus:        events.NewInMemoryBus(logger.Nop()),
		Validator:  validator.New(),
		Log:        logger.Nop(),
	}, Settings{LockWait: 200 * time.Millisecond, OptOutLockWait: 2 * time.Second, MaxTurns: 20})
	if err != nil {
		t.Fatalf("conductor: %v", err)
	}
	c.now = func() time.Time { return h.now }
	h.conductor = c
	return h
}

func (h *harness) envelope() domain.LeadEnvelope {
	return domain.LeadEnvelope{
		TenantID:     h.tenant.ID,
		Phone:        "(201) 555-0123",
		FirstName:    "Dana",
		Source:       "web_form",
		StateCode:    "ny",
		ConsentBasis: domain.ConsentPEC,
	}
}
