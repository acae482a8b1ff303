// Package compliance decides whether an outbound message may be sent to a lead.
// Every decision is a pure function of its Request, including the clock.
package compliance

import (
	"fmt"
	"time"
)

// Rule identifiers reported on denial.
const (
	RuleOptOut              = "opt_out"
	RuleNoConsent           = "no_consent"
	RuleConsentLevel        = "consent_level"
	RuleQuietHours          = "quiet_hours"
	RuleMessageLimit        = "message_limit"
	RuleURLShortener        = "url_shortener"
	RuleMissingOptOut       = "missing_opt_out"
	RuleMissingBusinessName = "missing_business_name"
)

// Consent levels.
const (
	ConsentPEC  = "pec"
	ConsentPEWC = "pewc"
)

// DefaultColdOutreachLimit is the lifetime cap on unsolicited messages per lead.
const DefaultColdOutreachLimit = 3

// Consent is the subset of a consent record that drives decisions.
type Consent struct {
	Level    string
	Active   bool
	OptedOut bool
}

// Request describes one intended outbound message.
type Request struct {
	// Consent is nil when no consent record exists.
	Consent *Consent

	StateCode string
	// Timezone overrides the state-derived zone when it names a loadable zone.
	Timezone string
	// FallbackTimezone is used only when neither Timezone nor StateCode
	// resolves, ahead of the gatekeeper default.
	FallbackTimezone string
	Emergency        bool

	ColdOutreachCount int
	ReplyToInbound    bool

	Body         string
	BusinessName string
	FirstMessage bool
	Marketing    bool

	Now time.Time
}

// Result is the outcome of a compliance decision. It is never persisted as is.
type Result struct {
	Allowed bool
	Rule    string
	Reason  string
	// RetryAt is the next instant the denied message could be sent, set only
	// for quiet-hours denials.
	RetryAt *time.Time
}

func allow() Result {
	return Result{Allowed: true}
}

func deny(rule, reason string) Result {
	return Result{Rule: rule, Reason: reason}
}

// Options configures a Gatekeeper.
type Options struct {
	ColdOutreachLimit int
	DefaultTimezone   string
	Calendar          *Calendar
}

// Gatekeeper evaluates compliance rules. It is immutable and safe for concurrent use.
type Gatekeeper struct {
	coldLimit   int
	defaultZone *time.Location
	calendar    *Calendar
}

// NewGatekeeper builds a Gatekeeper. A nil calendar blocks no holidays.
func NewGatekeeper(opts Options) (*Gatekeeper, error) {
	if opts.ColdOutreachLimit < 0 {
		return nil, fmt.Errorf("cold outreach limit must not be negative, got %d", opts.ColdOutreachLimit)
	}
	zone := opts.DefaultTimezone
	if zone == "" {
		zone = "America/New_York"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load default timezone %q: %w", zone, err)
	}
	return &Gatekeeper{
		coldLimit:   opts.ColdOutreachLimit,
		defaultZone: loc,
		calendar:    opts.Calendar,
	}, nil
}

// Precheck runs the consent, quiet-hours and message-limit checks in order.
// It is used before any content exists.
func (g *Gatekeeper) Precheck(req Request) Result {
	if r := g.CheckConsent(req); !r.Allowed {
		return r
	}
	if r := g.CheckQuietHours(req); !r.Allowed {
		return r
	}
	return g.CheckMessageLimit(req)
}

// Evaluate runs every check in fixed order and returns the first denial.
func (g *Gatekeeper) Evaluate(req Request) Result {
	if r := g.Precheck(req); !r.Allowed {
		return r
	}
	return g.CheckContent(req)
}

// CheckConsent requires an active, non-revoked consent record, and written
// consent for marketing content.
func (g *Gatekeeper) CheckConsent(req Request) Result {
	c := req.Consent
	switch {
	case c == nil:
		return deny(RuleNoConsent, "no consent record on file")
	case c.OptedOut:
		return deny(RuleOptOut, "lead has opted out")
	case !c.Active:
		return deny(RuleNoConsent, "consent record is inactive")
	case c.Level != ConsentPEC && c.Level != ConsentPEWC:
		return deny(RuleNoConsent, fmt.Sprintf("unknown consent level %q", c.Level))
	case req.Marketing && c.Level != ConsentPEWC:
		return deny(RuleConsentLevel, "marketing content requires prior express written consent")
	}
	return allow()
}

// CheckMessageLimit caps unsolicited outreach. Replies to an inbound message
// always pass.
func (g *Gatekeeper) CheckMessageLimit(req Request) Result {
	if req.ReplyToInbound {
		return allow()
	}
	if req.ColdOutreachCount >= g.coldLimit {
		return deny(RuleMessageLimit, fmt.Sprintf("cold outreach limit of %d reached", g.coldLimit))
	}
	return allow()
}
