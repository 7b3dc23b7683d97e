// Package hearing holds the court-hearing domain types and the
// advance-notice window evaluator.
package hearing

import (
	"strings"
	"time"
)

// Type distinguishes the two hearing slots a case record can carry.
type Type string

const (
	FirstInstance Type = "first_instance"
	Appeal        Type = "appeal"
)

// Types lists all hearing slots in evaluation order.
func Types() []Type { return []Type{FirstInstance, Appeal} }

// Window is the advance-notice range checked on every tick.
//
// A hearing matches when it falls inside [now+Lead-Width, now+Lead],
// both bounds inclusive. With Lead=24h and Width=1h (the defaults) a
// hearing is discoverable during exactly one hourly tick, modulo timer
// jitter, which is why the marker ledger exists at all.
type Window struct {
	Lead  time.Duration
	Width time.Duration
}

// DefaultWindow mirrors the hourly-poll / day-ahead reminder setup.
func DefaultWindow() Window {
	return Window{Lead: 24 * time.Hour, Width: time.Hour}
}

// Evaluate parses raw and reports whether the hearing is due for advance
// notice at the given instant. Unparsable input never matches and never
// errors; a malformed hearing date must not take the scheduler down.
func (w Window) Evaluate(now time.Time, raw string) (time.Time, bool) {
	t, ok := ParseTimestamp(raw, now.Location())
	if !ok {
		return time.Time{}, false
	}
	start := now.Add(w.Lead - w.Width)
	end := now.Add(w.Lead)
	if t.Before(start) || t.After(end) {
		return t, false
	}
	return t, true
}

// Layouts accepted after normalization. The case intake UI historically
// stored either ISO datetime-local strings or DD-MM-YYYY HH:MM.
var layouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	time.RFC3339,
}

// ParseTimestamp normalizes and parses a stored hearing timestamp.
//
// Strings with a space and no 'T' are treated as "DD-MM-YYYY HH:MM":
// the date tokens are reversed into ISO order before parsing. Everything
// else is parsed as-is against the known layouts. The bool result is
// false for anything unparsable (fail closed).
func ParseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	if strings.Contains(s, " ") && !strings.Contains(s, "T") {
		s = normalizeDayFirst(s)
		if s == "" {
			return time.Time{}, false
		}
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeDayFirst converts "DD-MM-YYYY HH:MM" to "YYYY-MM-DDTHH:MM".
// Returns "" when the shape doesn't match.
func normalizeDayFirst(s string) string {
	date, clock, ok := strings.Cut(s, " ")
	if !ok {
		return ""
	}
	parts := strings.Split(date, "-")
	if len(parts) != 3 {
		return ""
	}
	return parts[2] + "-" + parts[1] + "-" + parts[0] + "T" + strings.TrimSpace(clock)
}
