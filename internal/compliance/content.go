package compliance

import (
	"regexp"
	"strings"
)

var shortenerDomains = []string{
	"bit.ly",
	"tinyurl.com",
	"goo.gl",
	"t.co",
	"ow.ly",
	"is.gd",
	"buff.ly",
	"rebrand.ly",
	"cutt.ly",
	"shorturl.at",
	"tiny.cc",
	"bl.ink",
}

var shortenerPattern = func() *regexp.Regexp {
	quoted := make([]string, len(shortenerDomains))
	for i, d := range shortenerDomains {
		quoted[i] = regexp.QuoteMeta(d)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}()

// CheckContent denies shortened links in any message and enforces the
// first-message contract: an opt-out instruction and the business name.
func (g *Gatekeeper) CheckContent(req Request) Result {
	if m := shortenerPattern.FindString(req.Body); m != "" {
		return deny(RuleURLShortener, "message contains shortened link "+strings.ToLower(m))
	}
	if !req.FirstMessage {
		return allow()
	}

	lower := strings.ToLower(req.Body)
	if !strings.Contains(lower, "stop") {
		return deny(RuleMissingOptOut, "first message must tell the lead how to opt out with STOP")
	}
	name := strings.ToLower(strings.TrimSpace(req.BusinessName))
	if name == "" || !strings.Contains(lower, name) {
		return deny(RuleMissingBusinessName, "first message must identify the business by name")
	}
	return allow()
}
