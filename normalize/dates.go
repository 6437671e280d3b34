package normalize

import (
	"fmt"
	"strings"
	"time"
)

// CommonLayouts covers the timestamp formats seen across the portals.
var CommonLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02.01.2006 15:04",
	"02.01.2006",
	"20060102",
}

// ParseTime tries the given layouts, or CommonLayouts when none are given.
// Timestamps without zone information are read as UTC.
func ParseTime(s string, layouts ...string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(layouts) == 0 {
		layouts = CommonLayouts
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", s)
}

// Day returns midnight UTC of the calendar day t falls on in its own zone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayOfMonth builds the date for day d of the given month, reporting false
// for days the month does not have (e.g. 31 February).
func DayOfMonth(year int, month time.Month, d int) (time.Time, bool) {
	t := time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != d {
		return time.Time{}, false
	}

	return t, true
}
