package ics

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	untilKey        = "UNTIL"
	untilDateLayout = "20060102"
	untilOutLayout  = "20060102T150405Z"
)

// Clause is one KEY=VALUE part of a recurrence rule. Key keeps the case
// it was written in.
type Clause struct {
	Key   string
	Value string
}

// Recurrence is a parsed RRULE value.
//
// Only the first eight characters after UNTIL= are read, as a date. When
// they parse, the rule is converted: UNTIL becomes midnight of that date in
// the observer location and the rule is re-serialized from its clauses.
// Otherwise Raw is emitted unchanged.
type Recurrence struct {
	// Raw is the rule text with any "RRULE:" prefix removed.
	Raw string

	// Clauses in source order. Nil when a clause has no '='.
	Clauses []Clause

	// Options holds the typed values (FREQ, INTERVAL, COUNT, BYDAY,
	// WKST, ...). Nil when the rule is not understood by rrule-go.
	Options *rrule.ROption

	// Until is the converted UNTIL instant; zero when not converted.
	Until time.Time
}

// ParseRecurrence parses raw. loc is the observer location used for the
// UNTIL date; nil means time.Local. It never fails: unsupported input is
// kept verbatim.
func ParseRecurrence(raw string, loc *time.Location) *Recurrence {
	if loc == nil {
		loc = time.Local
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "RRULE:")
	r := &Recurrence{Raw: raw}

	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			r.Clauses = nil
			break
		}
		r.Clauses = append(r.Clauses, Clause{Key: strings.TrimSpace(key), Value: value})
	}

	if opt, err := rrule.StrToROptionInLocation(raw, loc); err == nil {
		r.Options = opt
	}

	if r.Clauses == nil {
		return r
	}
	var date string
	for _, c := range r.Clauses {
		if strings.EqualFold(c.Key, untilKey) {
			date = c.Value
			break
		}
	}
	if len(date) < len(untilDateLayout) {
		return r
	}
	until, err := time.ParseInLocation(untilDateLayout, date[:len(untilDateLayout)], loc)
	if err != nil {
		return r
	}
	r.Until = until
	if r.Options != nil {
		r.Options.Until = until
	}
	return r
}

// Converted reports whether UNTIL was normalized.
func (r *Recurrence) Converted() bool {
	return !r.Until.IsZero()
}

// Freq returns the rule frequency when it is known.
func (r *Recurrence) Freq() (rrule.Frequency, bool) {
	if r.Options == nil {
		return 0, false
	}
	return r.Options.Freq, true
}

// Value returns the textual value of key, matched case-insensitively,
// or "" when absent.
func (r *Recurrence) Value(key string) string {
	for _, c := range r.Clauses {
		if strings.EqualFold(c.Key, key) {
			if strings.EqualFold(key, untilKey) && r.Converted() {
				return r.Until.UTC().Format(untilOutLayout)
			}
			return c.Value
		}
	}
	return ""
}

// String renders the rule as an RRULE property value.
func (r *Recurrence) String() string {
	if !r.Converted() {
		return r.Raw
	}
	parts := make([]string, 0, len(r.Clauses))
	for _, c := range r.Clauses {
		v := c.Value
		if strings.EqualFold(c.Key, untilKey) {
			v = r.Until.UTC().Format(untilOutLayout)
		}
		parts = append(parts, c.Key+"="+v)
	}
	return strings.Join(parts, ";")
}
