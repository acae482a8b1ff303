package leads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"leadlock_backend/internal/compliance"
	"leadlock_backend/internal/leads/domain"
	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/apperr"

	"github.com/google/uuid"
)

func TestHandleNewLeadSendsIntake(t *testing.T) {
	h := newHarness(t)

	out := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if out.Kind != OutcomeSuccess || out.Status != StatusIntakeSent {
		t.Fatalf("expected intake_sent success, got %s/%s (%v)", out.Kind, out.Status, out.Err)
	}
	if out.LeadID == uuid.Nil {
		t.Fatalf("expected lead id on success")
	}

	lead := h.store.lead(out.LeadID)
	if lead.State != domain.StateIntakeSent || lead.PreviousState != domain.StateNew {
		t.Fatalf("unexpected lead states: %s from %s", lead.State, lead.PreviousState)
	}
	if lead.Phone != "+12015550123" {
		t.Fatalf("expected normalized phone, got %s", lead.Phone)
	}
	if lead.MessagesSent != 1 || lead.ColdOutreachCount != 1 || lead.CurrentAgent != "intake" {
		t.Fatalf("unexpected counters: %+v", lead)
	}
	if lead.ConsentID == nil {
		t.Fatalf("expected consent link")
	}
	consent, err := h.store.GetConsent(context.Background(), h.tenant.ID, *lead.ConsentID)
	if err != nil || consent.Type != domain.ConsentPEC || !consent.Active {
		t.Fatalf("unexpected consent: %+v %v", consent, err)
	}

	if h.transport.count() != 1 {
		t.Fatalf("expected one send, got %d", h.transport.count())
	}
	msg := h.transport.sent[0]
	if msg.From != h.tenant.OutboundNumber || msg.To != "+12015550123" || msg.Body != intakeText {
		t.Fatalf("unexpected outbound message: %+v", msg)
	}
	if got := h.store.transitions(out.LeadID); len(got) != 1 || got[0] != "new->intake_sent" {
		t.Fatalf("unexpected transition audit: %v", got)
	}
}

func TestHandleNewLeadInvalidPhoneTakesNoLock(t *testing.T) {
	h := newHarness(t)
	env := h.envelope()
	env.Phone = "not a phone"

	out := h.conductor.HandleNewLead(context.Background(), env)
	if out.Status != StatusInvalidPhone || out.Kind != OutcomeDenied {
		t.Fatalf("expected invalid_phone, got %s/%s", out.Kind, out.Status)
	}
	if h.locks.acquired.Load() != 0 {
		t.Fatalf("invalid phone must not take a lock")
	}
	if h.store.leadCount() != 0 || len(h.store.auditTypes()) != 0 {
		t.Fatalf("invalid phone must not persist anything")
	}
}

func TestHandleNewLeadInvalidEnvelope(t *testing.T) {
	h := newHarness(t)
	env := h.envelope()
	env.ConsentBasis = "verbal"
	env.StateCode = "ZZ"

	out := h.conductor.HandleNewLead(context.Background(), env)
	if out.Status != StatusInvalidRequest {
		t.Fatalf("expected invalid_request, got %s", out.Status)
	}
	if h.transport.count() != 0 {
		t.Fatalf("invalid request must not send")
	}
}

func TestHandleNewLeadDuplicateIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.conductor.HandleNewLead(ctx, h.envelope())
	second := h.conductor.HandleNewLead(ctx, h.envelope())

	if first.Status != StatusIntakeSent {
		t.Fatalf("expected first pass to send, got %s", first.Status)
	}
	if second.Status != StatusDuplicateAcknowledged || !second.OK() {
		t.Fatalf("expected duplicate acknowledgement, got %s/%s", second.Kind, second.Status)
	}
	if h.transport.count() != 1 || h.store.leadCount() != 1 {
		t.Fatalf("duplicate must not reprocess: sends=%d leads=%d", h.transport.count(), h.store.leadCount())
	}
}

func TestHandleNewLeadUnknownTenant(t *testing.T) {
	h := newHarness(t)
	env := h.envelope()
	env.TenantID = uuid.New()

	out := h.conductor.HandleNewLead(context.Background(), env)
	if out.Status != StatusClientNotFound {
		t.Fatalf("expected client_not_found, got %s", out.Status)
	}
}

func TestHandleNewLeadQuotaCheckedBeforeAnyRecord(t *testing.T) {
	h := newHarness(t)
	tenant := h.tenant
	tenant.MonthlyLeadLimit = 2
	h.tenants.tenants[tenant.ID] = tenant
	h.tenants.count = 2

	out := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if out.Status != StatusMonthlyLeadLimitReached {
		t.Fatalf("expected monthly_lead_limit_reached, got %s", out.Status)
	}
	if h.store.leadCount() != 0 || len(h.store.consents) != 0 {
		t.Fatalf("quota denial must not create lead or consent records")
	}
	if h.responders[domain.StateNew].calls.Load() != 0 {
		t.Fatalf("quota denial must not call the responder")
	}
}

func TestHandleNewLeadQuietHoursDeniedWithRetry(t *testing.T) {
	h := newHarness(t)
	h.now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) // 03:00 in New York

	out := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if out.Status != StatusComplianceBlocked || out.Rule != compliance.RuleQuietHours {
		t.Fatalf("expected quiet hours block, got %s/%s", out.Status, out.Rule)
	}
	if out.RetryAt == nil {
		t.Fatalf("expected retry time on quiet hours denial")
	}
	if h.responders[domain.StateNew].calls.Load() != 0 || h.transport.count() != 0 || h.store.leadCount() != 0 {
		t.Fatalf("denied lead must not generate, send or persist")
	}
	types := h.store.auditTypes()
	if len(types) != 1 || types[0] != domain.AuditComplianceDenied {
		t.Fatalf("expected denial audit, got %v", types)
	}

	// The deferred re-drive must not be swallowed by the duplicate suppressor.
	h.now = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	retry := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if retry.Status != StatusIntakeSent {
		t.Fatalf("expected re-drive to send, got %s", retry.Status)
	}
}

func TestHandleNewLeadEmergencyBypassesQuietHours(t *testing.T) {
	h := newHarness(t)
	h.now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	env := h.envelope()
	env.InboundText = "There is a gas leak in my basement"

	out := h.conductor.HandleNewLead(context.Background(), env)
	if out.Status != StatusIntakeSent {
		t.Fatalf("expected emergency lead to be contacted, got %s/%s", out.Status, out.Rule)
	}
	lead := h.store.lead(out.LeadID)
	if !lead.IsEmergency || lead.EmergencyCategory != compliance.EmergencyGasLeak {
		t.Fatalf("expected emergency flag, got %+v", lead)
	}
	if lead.ColdOutreachCount != 0 || lead.MessagesReceived != 1 {
		t.Fatalf("reply to an inbound text must not count as cold outreach: %+v", lead)
	}
}

func TestHandleNewLeadRechecksGeneratedContent(t *testing.T) {
	h := newHarness(t)
	h.responders[domain.StateNew].reply = ports.Reply{Text: "Hi Dana, this is Acme Plumbing. When works for you?"}

	out := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if out.Status != StatusComplianceBlocked || out.Rule != compliance.RuleMissingOptOut {
		t.Fatalf("expected missing_opt_out, got %s/%s", out.Status, out.Rule)
	}
	if h.transport.count() != 0 || h.store.leadCount() != 0 {
		t.Fatalf("content denial must not send or persist")
	}
}

func TestHandleNewLeadSendFailureLeavesNothingBehind(t *testing.T) {
	h := newHarness(t)
	h.transport.err = apperr.Unavailable("carrier down", errors.New("503"))

	out := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if !out.Retryable() || out.Status != StatusFailed {
		t.Fatalf("expected retryable failure, got %s/%s", out.Kind, out.Status)
	}
	if h.store.leadCount() != 0 || len(h.store.consents) != 0 {
		t.Fatalf("failed send must roll back lead and consent")
	}

	h.transport.err = nil
	retry := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if retry.Status != StatusIntakeSent {
		t.Fatalf("expected retry to succeed, got %s", retry.Status)
	}
}

func TestHandleNewLeadPriorOptOut(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateOptedOut, domain.ConsentPEWC)
	c := h.store.consents[*lead.ConsentID]
	c.OptedOut, c.Active = true, false
	h.store.consents[c.ID] = c

	out := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if out.Status != StatusComplianceBlocked || out.Rule != compliance.RuleOptOut {
		t.Fatalf("expected opt_out block, got %s/%s", out.Status, out.Rule)
	}
	if h.transport.count() != 0 {
		t.Fatalf("opted-out phone must not be contacted")
	}
}

func TestHandleInboundReplyAdvancesState(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)
	h.responders[domain.StateQualifying].reply = ports.Reply{
		Text:       "Great, you're all set. What day works for the visit?",
		NextState:  domain.StateQualified,
		ScoreDelta: 10,
	}

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "Yes, the water heater is 12 years old",
	})
	if !out.OK() || out.Status != string(domain.StateQualified) {
		t.Fatalf("expected qualified, got %s/%s (%v)", out.Kind, out.Status, out.Err)
	}

	got := h.store.lead(lead.ID)
	if got.State != domain.StateQualified || got.PreviousState != domain.StateQualifying {
		t.Fatalf("unexpected states: %s from %s", got.State, got.PreviousState)
	}
	if got.ConversationTurns != 1 || got.Score != 10 || got.MessagesReceived != 1 || got.MessagesSent != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	if got.ColdOutreachCount != 1 {
		t.Fatalf("replies must not count as cold outreach")
	}
	if got.LastInboundAt == nil || got.LastOutboundAt == nil {
		t.Fatalf("expected timestamps to be recorded")
	}
}

func TestHandleInboundReplyStopOptsOut(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: " STOP ",
	})
	if !out.OK() || out.Status != StatusOptedOut {
		t.Fatalf("expected opted_out, got %s/%s (%v)", out.Kind, out.Status, out.Err)
	}
	if h.responders[domain.StateQualifying].calls.Load() != 0 || h.transport.count() != 0 {
		t.Fatalf("opt-out must bypass the responder and send nothing")
	}

	got := h.store.lead(lead.ID)
	if got.State != domain.StateOptedOut || got.PreviousState != domain.StateQualifying || got.CurrentAgent != "" {
		t.Fatalf("unexpected lead after opt-out: %+v", got)
	}
	consent := h.store.consents[*lead.ConsentID]
	if !consent.OptedOut || consent.Active || consent.OptOutMethod != OptOutMethodKeyword || consent.OptedOutAt == nil {
		t.Fatalf("unexpected consent after opt-out: %+v", consent)
	}
	if h.store.followUps[lead.ID] != 0 {
		t.Fatalf("pending follow-ups must be cancelled")
	}

	var audit domain.AuditEvent
	for _, a := range h.store.audits {
		if a.Type == domain.AuditOptOut {
			audit = a
		}
	}
	if audit.FromState != domain.StateQualifying || audit.Metadata["cancelledFollowUps"] != int64(2) {
		t.Fatalf("unexpected opt-out audit: %+v", audit)
	}

	again := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "stop",
	})
	if !again.OK() || again.Status != StatusOptedOut {
		t.Fatalf("repeated opt-out must be an idempotent success, got %s/%s", again.Kind, again.Status)
	}
}

func TestHandleInboundReplyToOptedOutLead(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateOptedOut, domain.ConsentPEWC)

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "Actually can you come Tuesday?",
	})
	if out.Status != StatusComplianceBlocked || out.Rule != compliance.RuleOptOut {
		t.Fatalf("expected opted-out lead to be blocked, got %s/%s", out.Status, out.Rule)
	}
	if h.transport.count() != 0 || h.store.lead(lead.ID).State != domain.StateOptedOut {
		t.Fatalf("opted-out lead must stay terminal and silent")
	}
}

func TestHandleInboundReplyLockTimeoutIsRetryable(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)

	lease, err := h.locks.Acquire(context.Background(), LockKey(lead.TenantID, lead.Phone), time.Second)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer lease.Release(context.Background())

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "hello?",
	})
	if out.Status != StatusLockTimeout || !out.Retryable() {
		t.Fatalf("expected retryable lock_timeout, got %s/%s", out.Kind, out.Status)
	}
	if h.store.lead(lead.ID).State != domain.StateQualifying {
		t.Fatalf("lock timeout must leave the lead untouched")
	}
}

func TestOptOutWaitsOutBusyLock(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)

	lease, err := h.locks.Acquire(context.Background(), LockKey(lead.TenantID, lead.Phone), time.Second)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = lease.Release(context.Background())
	}()

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "unsubscribe",
	})
	if !out.OK() || out.Status != StatusOptedOut {
		t.Fatalf("expected opt-out to wait for the lock, got %s/%s", out.Kind, out.Status)
	}
}

func TestHandleInboundReplyTurnLimit(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)
	stored := h.store.leads[lead.ID]
	stored.ConversationTurns = 20
	h.store.leads[lead.ID] = stored

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "one more question",
	})
	if out.Status != StatusTurnLimitReached {
		t.Fatalf("expected turn_limit_reached, got %s", out.Status)
	}
	if h.responders[domain.StateQualifying].calls.Load() != 0 {
		t.Fatalf("turn limit must stop before the responder")
	}
}

func TestHandleInboundReplyRejectsIllegalTransition(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)
	h.responders[domain.StateQualifying].reply = ports.Reply{Text: "Booked!", NextState: domain.StateBooked}

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "book me",
	})
	if out.Status != StatusIllegalTransition || out.Kind != OutcomeFailed {
		t.Fatalf("expected illegal_transition failure, got %s/%s", out.Kind, out.Status)
	}
	if !errors.Is(out.Err, domain.ErrIllegalTransition) {
		t.Fatalf("expected typed transition error, got %v", out.Err)
	}
	if h.transport.count() != 0 || h.store.lead(lead.ID).State != domain.StateQualifying {
		t.Fatalf("illegal transition must not send or move the lead")
	}
}

func TestHandleInboundReplyDeduplicatesProviderMessage(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)
	in := domain.InboundReply{TenantID: h.tenant.ID, LeadID: lead.ID, Text: "sounds good", ProviderMessageID: "SMinbound1"}

	first := h.conductor.HandleInboundReply(context.Background(), in)
	second := h.conductor.HandleInboundReply(context.Background(), in)
	if !first.OK() || second.Status != StatusDuplicateAcknowledged {
		t.Fatalf("expected replay to be acknowledged, got %s then %s", first.Status, second.Status)
	}
	if h.transport.count() != 1 {
		t.Fatalf("expected one reply sent, got %d", h.transport.count())
	}
}

func TestHandleInboundReplyMarketingNeedsWrittenConsent(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualified, domain.ConsentPEC)
	h.responders[domain.StateQualified].reply = ports.Reply{Text: "20% off duct cleaning this week!", Marketing: true}

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "anything else?",
	})
	if out.Rule != compliance.RuleConsentLevel {
		t.Fatalf("expected consent_level denial, got %s/%s", out.Status, out.Rule)
	}
}

func TestOptOutPersistenceFailureIsHard(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateBooking, domain.ConsentPEWC)
	h.store.failUpdateConsent = errors.New("connection reset")

	out := h.conductor.HandleOptOut(context.Background(), OptOutRequest{
		TenantID: h.tenant.ID, LeadID: lead.ID, Method: OptOutMethodManual,
	})
	if out.OK() || out.Status != StatusFailed || out.Err == nil {
		t.Fatalf("expected hard failure, got %s/%s", out.Kind, out.Status)
	}
	if h.store.lead(lead.ID).State != domain.StateBooking {
		t.Fatalf("failed opt-out must leave the lead where it was")
	}
}

func TestConcurrentRepliesAreSerialized(t *testing.T) {
	h := newHarness(t)
	h.conductor.settings.LockWait = 5 * time.Second
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)

	h.responders[domain.StateQualifying].delay = 100 * time.Millisecond
	h.responders[domain.StateQualifying].reply = ports.Reply{Text: "You qualify. Want to book?", NextState: domain.StateQualified}
	h.responders[domain.StateQualified].reply = ports.Reply{Text: "Let's find a time.", NextState: domain.StateBooking}

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
				TenantID: h.tenant.ID, LeadID: lead.ID, Text: "yes please",
			})
		}(i)
	}
	wg.Wait()

	statuses := map[string]bool{}
	for _, out := range outcomes {
		if !out.OK() {
			t.Fatalf("expected both passes to succeed, got %s/%s (%v)", out.Kind, out.Status, out.Err)
		}
		statuses[out.Status] = true
	}
	if !statuses[string(domain.StateQualified)] || !statuses[string(domain.StateBooking)] {
		t.Fatalf("expected one qualified and one booking pass, got %v", statuses)
	}
	if h.responders[domain.StateQualifying].calls.Load() != 1 {
		t.Fatalf("both passes observed the pre-transition state")
	}

	got := h.store.transitions(lead.ID)
	if len(got) != 2 || got[0] != "qualifying->qualified" || got[1] != "qualified->booking" {
		t.Fatalf("unexpected transition history: %v", got)
	}
	if h.store.lead(lead.ID).ConversationTurns != 2 {
		t.Fatalf("expected two turns recorded")
	}
}

func TestNewRouterRequiresEveryNonTerminalState(t *testing.T) {
	r := &scriptedResponder{name: "x"}
	_, err := NewRouter(map[domain.State]ports.Responder{domain.StateNew: r})
	if err == nil {
		t.Fatalf("expected incomplete router to be rejected")
	}

	all := make(map[domain.State]ports.Responder)
	for _, s := range domain.NonTerminalStates() {
		all[s] = r
	}
	all[domain.StateOptedOut] = r
	if _, err := NewRouter(all); err == nil {
		t.Fatalf("expected responder on terminal state to be rejected")
	}
}

func TestFingerprintIgnoresFormatting(t *testing.T) {
	env := domain.LeadEnvelope{TenantID: uuid.New(), Source: "Web_Form", FirstName: "Dana", InboundText: "need  a plumber"}
	a := Fingerprint(env, "+12015550123")

	env.Source = " web_form "
	env.FirstName = "DANA"
	env.InboundText = "need a plumber"
	if b := Fingerprint(env, "+12015550123"); a != b {
		t.Fatalf("expected formatting-insensitive fingerprint")
	}

	env.InboundText = "need an electrician"
	if c := Fingerprint(env, "+12015550123"); c == a {
		t.Fatalf("different content must change the fingerprint")
	}
}

func TestHandleNewLeadUsesLeadZoneOverTenantZone(t *testing.T) {
	h := newHarness(t)
	tenant := h.tenant
	tenant.Timezone = "America/Los_Angeles"
	h.tenants.tenants[tenant.ID] = tenant

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	// 18:30 for the tenant, but 21:30 for a New York lead.
	h.now = time.Date(2026, 3, 2, 21, 30, 0, 0, ny)

	out := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if out.Kind != OutcomeDenied || out.Status != StatusComplianceBlocked || out.Rule != compliance.RuleQuietHours {
		t.Fatalf("expected quiet hours block in the lead's zone, got %s/%s/%s", out.Kind, out.Status, out.Rule)
	}
	if h.transport.count() != 0 || h.store.leadCount() != 0 {
		t.Fatalf("blocked lead must not be contacted: sends=%d leads=%d", h.transport.count(), h.store.leadCount())
	}
}

func TestHandleNewLeadFallsBackToTenantZone(t *testing.T) {
	h := newHarness(t)
	tenant := h.tenant
	tenant.Timezone = "America/Los_Angeles"
	h.tenants.tenants[tenant.ID] = tenant

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	h.now = time.Date(2026, 3, 2, 21, 30, 0, 0, ny)
	env := h.envelope()
	env.StateCode = ""

	out := h.conductor.HandleNewLead(context.Background(), env)
	if out.Status != StatusIntakeSent {
		t.Fatalf("lead without a state should use the tenant zone, got %s/%s", out.Status, out.Rule)
	}
}

func TestHandleNewLeadQuotaRecheckedInTransaction(t *testing.T) {
	h := newHarness(t)
	tenant := h.tenant
	tenant.MonthlyLeadLimit = 2
	h.tenants.tenants[tenant.ID] = tenant
	// The precheck keeps seeing one lead, as a concurrent pass for another
	// phone would before either commits.
	h.tenants.count = 1
	h.store.priorLeads = 1

	first := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if first.Status != StatusIntakeSent {
		t.Fatalf("expected first lead to be contacted, got %s (%v)", first.Status, first.Err)
	}

	env := h.envelope()
	env.Phone = "(201) 555-0199"
	second := h.conductor.HandleNewLead(context.Background(), env)
	if second.Kind != OutcomeDenied || second.Status != StatusMonthlyLeadLimitReached {
		t.Fatalf("expected monthly_lead_limit_reached, got %s/%s", second.Kind, second.Status)
	}
	if h.transport.count() != 1 || h.store.leadCount() != 1 {
		t.Fatalf("quota overshoot: sends=%d leads=%d", h.transport.count(), h.store.leadCount())
	}
}

func TestHandleNewLeadCarrierOptOutIsRemembered(t *testing.T) {
	h := newHarness(t)
	h.transport.err = apperr.Wrap(apperr.KindForbidden, "unsubscribed", fmt.Errorf("%w: 21610", ports.ErrRecipientOptedOut))

	out := h.conductor.HandleNewLead(context.Background(), h.envelope())
	if out.Kind != OutcomeDenied || out.Status != StatusComplianceBlocked || out.Rule != compliance.RuleOptOut {
		t.Fatalf("expected opt_out block, got %s/%s/%s", out.Kind, out.Status, out.Rule)
	}
	if h.store.leadCount() != 0 {
		t.Fatalf("no lead may be created for a carrier opt-out")
	}
	optedOut, err := h.store.HasOptedOut(context.Background(), h.tenant.ID, "+12015550123")
	if err != nil || !optedOut {
		t.Fatalf("expected the phone to be recorded as opted out, got %v %v", optedOut, err)
	}
	for _, c := range h.store.consents {
		if c.OptOutMethod != OptOutMethodCarrier {
			t.Fatalf("unexpected opt-out method %q", c.OptOutMethod)
		}
	}

	// A later submission for the same phone is blocked before any send.
	h.transport.err = nil
	env := h.envelope()
	env.Source = "phone_call"
	again := h.conductor.HandleNewLead(context.Background(), env)
	if again.Rule != compliance.RuleOptOut || h.transport.count() != 0 {
		t.Fatalf("expected prior opt-out block, got %s/%s sends=%d", again.Status, again.Rule, h.transport.count())
	}
}

func TestHandleInboundReplyCarrierOptOut(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)
	h.transport.err = apperr.Wrap(apperr.KindForbidden, "unsubscribed", fmt.Errorf("%w: 21610", ports.ErrRecipientOptedOut))

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "what time tomorrow?",
	})
	if !out.OK() || out.Status != StatusOptedOut {
		t.Fatalf("expected opted_out, got %s/%s (%v)", out.Kind, out.Status, out.Err)
	}

	got := h.store.lead(lead.ID)
	if got.State != domain.StateOptedOut {
		t.Fatalf("expected lead to be opted out, got %s", got.State)
	}
	consent := h.store.consents[*lead.ConsentID]
	if !consent.OptedOut || consent.OptOutMethod != OptOutMethodCarrier {
		t.Fatalf("unexpected consent after carrier opt-out: %+v", consent)
	}
	if h.store.followUps[lead.ID] != 0 {
		t.Fatalf("pending follow-ups must be cancelled")
	}
}

func TestSentMessagesAreAudited(t *testing.T) {
	h := newHarness(t)
	lead := h.store.seedLead(t, h.tenant.ID, domain.StateQualifying, domain.ConsentPEWC)
	h.responders[domain.StateQualifying].reply = ports.Reply{
		Text:       "Would Thursday morning work?",
		NextAction: "offer_slot",
	}

	out := h.conductor.HandleInboundReply(context.Background(), domain.InboundReply{
		TenantID: h.tenant.ID, LeadID: lead.ID, Text: "Any time this week",
	})
	if !out.OK() {
		t.Fatalf("expected success, got %s/%s (%v)", out.Kind, out.Status, out.Err)
	}

	var sent []domain.AuditEvent
	for _, a := range h.store.audits {
		if a.Type == domain.AuditMessageSent {
			sent = append(sent, a)
		}
	}
	if len(sent) != 1 {
		t.Fatalf("expected one message_sent audit, got %d", len(sent))
	}
	meta := sent[0].Metadata
	if meta["agent"] != string(domain.StateQualifying) || meta["providerMessageId"] != "SM0001" || meta["nextAction"] != "offer_slot" {
		t.Fatalf("unexpected message_sent metadata: %v", meta)
	}
}
