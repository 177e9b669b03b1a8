package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05"

var errMissingTimestamp = errors.New("missing value")

// InvalidTimestampError is returned when starts_at or ends_at cannot be parsed.
type InvalidTimestampError struct {
	EventID string
	Field   string
	Value   string
	Err     error
}

func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("event %s: invalid %s %q: %v", e.EventID, e.Field, e.Value, e.Err)
}

func (e *InvalidTimestampError) Unwrap() error { return e.Err }

// ParseTimestamp parses a source timestamp such as
// "2024-04-23T18:00:00.000Z" as UTC. Anything from the first '.' on is
// discarded, as is a bare trailing 'Z'.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errMissingTimestamp
	}
	s, _, _ = strings.Cut(s, ".")
	s = strings.TrimSuffix(s, "Z")
	return time.ParseInLocation(timestampLayout, s, time.UTC)
}
