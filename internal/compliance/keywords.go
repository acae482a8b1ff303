package compliance

import (
	"regexp"
	"strings"
)

var stopKeywords = map[string]bool{
	"stop":        true,
	"unsubscribe": true,
	"cancel":      true,
	"end":         true,
	"quit":        true,
	"opt-out":     true,
	"optout":      true,
	"remove":      true,
}

// IsStopKeyword reports whether the whole message, trimmed and case-folded,
// is an opt-out keyword. "stop texting me" is not a match.
func IsStopKeyword(text string) bool {
	return stopKeywords[strings.ToLower(strings.TrimSpace(text))]
}

// Emergency categories.
const (
	EmergencyGasLeak        = "gas_leak"
	EmergencyCarbonMonoxide = "carbon_monoxide"
	EmergencyFlooding       = "flooding"
	EmergencyNoHeat         = "no_heat"
	EmergencyElectrical     = "electrical"
	EmergencySewage         = "sewage"
)

// Ordered by severity; the first match wins.
var emergencyPatterns = []struct {
	category string
	pattern  *regexp.Regexp
}{
	{EmergencyGasLeak, regexp.MustCompile(`(?i)\b(gas\s+leak|smell(s|ing)?\s+(of\s+)?gas|gas\s+smell)\b`)},
	{EmergencyCarbonMonoxide, regexp.MustCompile(`(?i)\b(carbon\s+monoxide|co\s+(alarm|detector))\b`)},
	{EmergencyElectrical, regexp.MustCompile(`(?i)\b(electrical\s+fire|sparking|sparks|burning\s+smell|smoke\s+from)\b`)},
	{EmergencyFlooding, regexp.MustCompile(`(?i)\b(flood(ed|ing)?|burst\s+pipe|pipe\s+burst|water\s+everywhere)\b`)},
	{EmergencySewage, regexp.MustCompile(`(?i)\b(sewage|sewer\s+backup|sewage\s+backup)\b`)},
	{EmergencyNoHeat, regexp.MustCompile(`(?i)\b(no\s+heat|furnace\s+(is\s+)?(out|dead|not\s+working)|heat(er)?\s+(is\s+)?(out|not\s+working))\b`)},
}

// DetectEmergency returns the category of a life-safety problem described in
// text. Emergency leads may be contacted outside quiet hours; consent still applies.
func DetectEmergency(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	for _, p := range emergencyPatterns {
		if p.pattern.MatchString(text) {
			return p.category, true
		}
	}
	return "", false
}
