package compliance

import (
	"fmt"
	"strings"
	"time"
)

// window is a permitted sending interval [start, end) in minutes after local midnight.
type window struct {
	start int
	end   int
	// closed marks a whole day as blocked.
	closed bool
	note   string
}

const (
	baseStart = 8 * 60
	baseEnd   = 21 * 60
)

// searchDays bounds the forward search for the next open window.
const searchDays = 8

func (g *Gatekeeper) windowFor(state string, local time.Time) window {
	code := strings.ToUpper(strings.TrimSpace(state))
	w := window{start: baseStart, end: baseEnd}

	switch code {
	case "TX":
		if local.Weekday() == time.Sunday {
			w.start = 12 * 60
			w.note = "Texas Sunday hours"
		}
	case "FL":
		w.end = 20 * 60
		w.note = "Florida hours"
		if name, ok := g.calendar.Holiday(code, local); ok {
			w.closed = true
			w.note = "Florida holiday: " + name
		}
	}
	return w
}

// CheckQuietHours allows sending only inside the lead-local window.
// Emergency leads bypass this check entirely.
func (g *Gatekeeper) CheckQuietHours(req Request) Result {
	if req.Emergency {
		return allow()
	}

	loc := resolveLocation(req, g.defaultZone)
	local := req.Now.In(loc)
	w := g.windowFor(req.StateCode, local)
	minute := local.Hour()*60 + local.Minute()

	if !w.closed && minute >= w.start && minute < w.end {
		return allow()
	}

	reason := fmt.Sprintf("outside permitted hours at %s %s", local.Format("Mon 15:04"), loc.String())
	if w.note != "" {
		reason += " (" + w.note + ")"
	}
	r := deny(RuleQuietHours, reason)
	if next, ok := g.nextOpening(req.StateCode, local); ok {
		r.RetryAt = &next
	}
	return r
}

func (g *Gatekeeper) nextOpening(state string, local time.Time) (time.Time, bool) {
	loc := local.Location()
	minute := local.Hour()*60 + local.Minute()

	for day := 0; day <= searchDays; day++ {
		date := time.Date(local.Year(), local.Month(), local.Day()+day, 12, 0, 0, 0, loc)
		w := g.windowFor(state, date)
		if w.closed {
			continue
		}
		if day == 0 && minute >= w.start {
			continue
		}
		open := time.Date(date.Year(), date.Month(), date.Day(), w.start/60, w.start%60, 0, 0, loc)
		return open.UTC(), true
	}
	return time.Time{}, false
}
