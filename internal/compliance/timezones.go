package compliance

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// stateZones maps US state and territory codes to their predominant IANA zone.
// States split across zones use the zone covering most of the population.
var stateZones = map[string]string{
	"AL": "America/Chicago",
	"AK": "America/Anchorage",
	"AZ": "America/Phoenix",
	"AR": "America/Chicago",
	"CA": "America/Los_Angeles",
	"CO": "America/Denver",
	"CT": "America/New_York",
	"DE": "America/New_York",
	"DC": "America/New_York",
	"FL": "America/New_York",
	"GA": "America/New_York",
	"HI": "Pacific/Honolulu",
	"ID": "America/Boise",
	"IL": "America/Chicago",
	"IN": "America/Indiana/Indianapolis",
	"IA": "America/Chicago",
	"KS": "America/Chicago",
	"KY": "America/New_York",
	"LA": "America/Chicago",
	"ME": "America/New_York",
	"MD": "America/New_York",
	"MA": "America/New_York",
	"MI": "America/Detroit",
	"MN": "America/Chicago",
	"MS": "America/Chicago",
	"MO": "America/Chicago",
	"MT": "America/Denver",
	"NE": "America/Chicago",
	"NV": "America/Los_Angeles",
	"NH": "America/New_York",
	"NJ": "America/New_York",
	"NM": "America/Denver",
	"NY": "America/New_York",
	"NC": "America/New_York",
	"ND": "America/Chicago",
	"OH": "America/New_York",
	"OK": "America/Chicago",
	"OR": "America/Los_Angeles",
	"PA": "America/New_York",
	"RI": "America/New_York",
	"SC": "America/New_York",
	"SD": "America/Chicago",
	"TN": "America/Chicago",
	"TX": "America/Chicago",
	"UT": "America/Denver",
	"VT": "America/New_York",
	"VA": "America/New_York",
	"WA": "America/Los_Angeles",
	"WV": "America/New_York",
	"WI": "America/Chicago",
	"WY": "America/Denver",
	"PR": "America/Puerto_Rico",
	"VI": "America/St_Thomas",
	"GU": "Pacific/Guam",
	"AS": "Pacific/Pago_Pago",
	"MP": "Pacific/Saipan",
}

// KnownState reports whether code is a supported state or territory code.
func KnownState(code string) bool {
	_, ok := stateZones[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// zoneCache holds every location from stateZones, loaded once at init.
var zoneCache = func() map[string]*time.Location {
	out := make(map[string]*time.Location, len(stateZones))
	for code, name := range stateZones {
		loc, err := time.LoadLocation(name)
		if err != nil {
			panic("compliance: load zone " + name + ": " + err.Error())
		}
		out[code] = loc
	}
	return out
}()

// resolveLocation picks the lead-local zone: an explicit, loadable override
// wins, then the state table, then the request fallback, then def.
func resolveLocation(req Request, def *time.Location) *time.Location {
	if req.Timezone != "" {
		if loc, err := time.LoadLocation(req.Timezone); err == nil {
			return loc
		}
	}
	if loc, ok := zoneCache[strings.ToUpper(strings.TrimSpace(req.StateCode))]; ok {
		return loc
	}
	if req.FallbackTimezone != "" {
		if loc, err := time.LoadLocation(req.FallbackTimezone); err == nil {
			return loc
		}
	}
	return def
}
