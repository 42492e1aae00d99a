// Package time contains time related helpers
package time

import (
	"strings"
	"time"
)

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Day truncates t to its UTC calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayouts are the date shapes accepted by ParseDate, tried in order
var DateLayouts = []string{
	time.DateOnly,
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDate parses s with DateLayouts and returns its UTC day
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range DateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return Day(t), true
		}
	}
	return time.Time{}, false
}
