package model

import (
	"encoding/json"
	"time"
)

// Event is one calendar occurrence or recurrence master as returned by the
// frame's calendar_events endpoint. Optional attributes are pointers; nil
// means the attribute was absent (or JSON null) in the source record.
type Event struct {
	ID   string
	Type string // e.g. "calendar_event"
	UID  string // globally stable, becomes the VEVENT UID

	Summary     string
	Description *string
	Location    *string

	// StartsAt / EndsAt are the raw source timestamps
	// ("2024-04-23T18:00:00.000Z"); parsing happens at build time.
	StartsAt *string
	EndsAt   *string
	AllDay   *bool
	TimeZone *string // IANA name, e.g. "America/New_York"

	Recurring       *bool
	RRule           []string // only the first entry is used
	RecurringConfig json.RawMessage
	MasterEventID   *string

	CategoryID    *string // resolved from relationships.category.data.id
	CalendarID    *string
	OwnerEmail    *string
	InvitedEmails []string

	// Passthrough attributes, not used by the document builder.
	Status   *string
	Lat      *float64
	Lng      *float64
	Source   *string // "skylight", "ics_link", "google", ...
	Kind     *string
	Editable *bool
}

// IsAllDay reports whether the all_day attribute is present and true.
func (e Event) IsAllDay() bool {
	return e.AllDay != nil && *e.AllDay
}

// IsRecurring reports whether the recurring attribute is present and true.
func (e Event) IsRecurring() bool {
	return e.Recurring != nil && *e.Recurring
}

// Category is a labeled classification tag (usually a family member).
type Category struct {
	ID                    string
	Label                 string
	Color                 *string
	SelectedForChoreChart *bool
	ProfilePicURL         *string
}

// CalendarAccount is an external calendar account linked to the frame.
type CalendarAccount struct {
	ID              string
	Email           string
	Provider        *string
	ActiveCalendars []ActiveCalendar
}

// ActiveCalendar is one calendar synced from a CalendarAccount.
type ActiveCalendar struct {
	ID       string
	Name     string
	Role     string
	Editable bool
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	UID string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// Diagnostic records one record skipped by a pipeline stage.
type Diagnostic struct {
	Stage      string // "extract" or "build"
	RecordType string
	RecordID   string
	Err        error
}

func (d Diagnostic) String() string {
	id := d.RecordID
	if id == "" {
		id = "<no id>"
	}
	return d.Stage + ": " + d.RecordType + " " + id + ": " + d.Err.Error()
}
