package compliance

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed holidays.yaml
var defaultCalendarYAML []byte

const dateLayout = "2006-01-02"

type calendarFile struct {
	States map[string][]holidayEntry `yaml:"states"`
}

type holidayEntry struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

// Calendar holds per-state dates on which outbound messaging is blocked.
// It is immutable after construction and safe for concurrent use.
type Calendar struct {
	days  map[string]map[string]string
	years map[int]bool
}

// DefaultCalendar returns the calendar compiled into the binary.
func DefaultCalendar() (*Calendar, error) {
	return ParseCalendar(defaultCalendarYAML)
}

// LoadCalendar reads a calendar from path, or the embedded one when path is empty.
func LoadCalendar(path string) (*Calendar, error) {
	if path == "" {
		return DefaultCalendar()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday calendar: %w", err)
	}
	return ParseCalendar(data)
}

// ParseCalendar decodes a YAML calendar document.
func ParseCalendar(data []byte) (*Calendar, error) {
	var file calendarFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse holiday calendar: %w", err)
	}

	cal := &Calendar{
		days:  make(map[string]map[string]string, len(file.States)),
		years: make(map[int]bool),
	}
	for state, entries := range file.States {
		code := strings.ToUpper(strings.TrimSpace(state))
		if _, ok := stateZones[code]; !ok {
			return nil, fmt.Errorf("holiday calendar: unknown state %q", state)
		}
		byDate := make(map[string]string, len(entries))
		for _, e := range entries {
			d, err := time.Parse(dateLayout, strings.TrimSpace(e.Date))
			if err != nil {
				return nil, fmt.Errorf("holiday calendar %s: bad date %q: %w", code, e.Date, err)
			}
			byDate[d.Format(dateLayout)] = e.Name
			cal.years[d.Year()] = true
		}
		cal.days[code] = byDate
	}
	return cal, nil
}

// Holiday returns the holiday name when the calendar date of local is blocked
// for state. local must already be expressed in the lead's zone.
func (c *Calendar) Holiday(state string, local time.Time) (string, bool) {
	if c == nil {
		return "", false
	}
	byDate, ok := c.days[strings.ToUpper(state)]
	if !ok {
		return "", false
	}
	name, ok := byDate[local.Format(dateLayout)]
	return name, ok
}

// Stale reports whether the calendar has no entries for the year of now.
// An empty calendar is always stale.
func (c *Calendar) Stale(now time.Time) bool {
	if c == nil || len(c.years) == 0 {
		return true
	}
	return !c.years[now.Year()]
}

// LastYear returns the latest year with at least one entry, or 0.
func (c *Calendar) LastYear() int {
	if c == nil {
		return 0
	}
	last := 0
	for y := range c.years {
		if y > last {
			last = y
		}
	}
	return last
}
