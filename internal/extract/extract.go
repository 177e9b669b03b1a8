// Package extract turns a calendar_events API document into typed entities.
//
// Every record is extracted on its own: a record missing a required field is
// reported as a MalformedRecordError diagnostic and skipped, and the rest of
// the batch is still extracted.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"skylightcal/internal/model"
	"skylightcal/internal/skylight"
)

// Included record type discriminators.
const (
	TypeCategory        = "category"
	TypeCalendarAccount = "calendar_account"
)

// Stage is the Diagnostic.Stage value used by this package.
const Stage = "extract"

// MalformedRecordError reports required fields that are missing or carry the
// wrong JSON type.
type MalformedRecordError struct {
	RecordType string
	RecordID   string
	Problems   []string // "label: missing", "uid: expected string, got number", ...
}

func (e *MalformedRecordError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("malformed %s record %s: %s", e.RecordType, id, strings.Join(e.Problems, "; "))
}

type fieldError struct {
	field  string
	reason string
}

func (e fieldError) Error() string { return e.field + ": " + e.reason }

// recordCheck accumulates required-field problems for one record.
type recordCheck struct {
	problems []string
}

func (c *recordCheck) add(err error) {
	if err != nil {
		c.problems = append(c.problems, err.Error())
	}
}

func (c *recordCheck) err(recordType, id string) error {
	if len(c.problems) == 0 {
		return nil
	}
	return &MalformedRecordError{RecordType: recordType, RecordID: id, Problems: c.problems}
}

// Result is the output of Extract.
type Result struct {
	Events           []model.Event
	Categories       []model.Category
	CalendarAccounts []model.CalendarAccount

	// TotalEventCount is meta.total_event_count, nil when not reported.
	TotalEventCount *int

	Diagnostics []model.Diagnostic
}

// CategoryByID looks up an extracted category. Events may reference
// categories that were not included in the response.
func (r *Result) CategoryByID(id string) (model.Category, bool) {
	for _, c := range r.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return model.Category{}, false
}

// Extract converts doc into typed entities, preserving input order.
// Included records of unknown type are ignored.
func Extract(doc *skylight.Document) *Result {
	res := &Result{}
	if doc == nil {
		return res
	}
	res.TotalEventCount = doc.Meta.TotalEventCount

	for _, r := range doc.Data {
		ev, err := Event(r)
		if err != nil {
			res.diagnose(r, "calendar_event", err)
			continue
		}
		res.Events = append(res.Events, ev)
	}

	for _, r := range doc.Included {
		switch r.Type {
		case TypeCategory:
			c, err := Category(r)
			if err != nil {
				res.diagnose(r, TypeCategory, err)
				continue
			}
			res.Categories = append(res.Categories, c)
		case TypeCalendarAccount:
			a, err := CalendarAccount(r)
			if err != nil {
				res.diagnose(r, TypeCalendarAccount, err)
				continue
			}
			res.CalendarAccounts = append(res.CalendarAccounts, a)
		}
	}
	return res
}

func (r *Result) diagnose(rec skylight.Resource, fallbackType string, err error) {
	typ := rec.Type
	if typ == "" {
		typ = fallbackType
	}
	r.Diagnostics = append(r.Diagnostics, model.Diagnostic{
		Stage:      Stage,
		RecordType: typ,
		RecordID:   string(rec.ID),
		Err:        err,
	})
}

func checkIdentity(c *recordCheck, rec skylight.Resource) {
	if rec.ID == "" {
		c.add(fieldError{field: "id", reason: "missing"})
	}
	if rec.Type == "" {
		c.add(fieldError{field: "type", reason: "missing"})
	}
}

// Event extracts one event record. Required: id, type, uid, summary.
func Event(rec skylight.Resource) (model.Event, error) {
	a := attrs(rec.Attributes)
	var c recordCheck
	checkIdentity(&c, rec)

	uid, err := a.requiredString("uid")
	c.add(err)
	summary, err := a.requiredString("summary")
	c.add(err)

	typ := rec.Type
	if typ == "" {
		typ = "calendar_event"
	}
	if err := c.err(typ, string(rec.ID)); err != nil {
		return model.Event{}, err
	}

	ev := model.Event{
		ID:              string(rec.ID),
		Type:            rec.Type,
		UID:             uid,
		Summary:         summary,
		Description:     a.optString("description"),
		Location:        a.optString("location"),
		StartsAt:        a.optString("starts_at"),
		EndsAt:          a.optString("ends_at"),
		AllDay:          a.optBool("all_day"),
		TimeZone:        a.optString("timezone"),
		Recurring:       a.optBool("recurring"),
		RRule:           a.stringSlice("rrule"),
		RecurringConfig: a.raw("recurring_config"),
		MasterEventID:   a.optID("master_event_id"),
		CalendarID:      a.optID("calendar_id"),
		OwnerEmail:      a.optString("owner_email"),
		InvitedEmails:   a.stringSlice("invited_emails"),
		Status:          a.optString("status"),
		Lat:             a.optFloat("lat"),
		Lng:             a.optFloat("lng"),
		Source:          a.optString("source"),
		Kind:            a.optString("kind"),
		Editable:        a.optBool("editable"),
	}
	if ev.TimeZone == nil {
		ev.TimeZone = a.optString("time_zone")
	}

	if rel, ok := rec.Relationships["category"]; ok {
		if ref, ok := rel.Ref(); ok {
			id := string(ref.ID)
			ev.CategoryID = &id
		}
	}
	return ev, nil
}

// Category extracts one category record. Required: id, label.
func Category(rec skylight.Resource) (model.Category, error) {
	a := attrs(rec.Attributes)
	var c recordCheck
	checkIdentity(&c, rec)

	label, err := a.requiredString("label")
	c.add(err)

	if err := c.err(TypeCategory, string(rec.ID)); err != nil {
		return model.Category{}, err
	}

	return model.Category{
		ID:                    string(rec.ID),
		Label:                 label,
		Color:                 a.optString("color"),
		SelectedForChoreChart: a.optBool("selected_for_chore_chart"),
		ProfilePicURL:         a.optString("profile_pic_url"),
	}, nil
}

type activeCalendar struct {
	ID       skylight.ID `json:"id"`
	Name     *string     `json:"name"`
	Role     *string     `json:"role"`
	Editable *bool       `json:"editable"`
}

// CalendarAccount extracts one linked account record. Required: id, email.
func CalendarAccount(rec skylight.Resource) (model.CalendarAccount, error) {
	a := attrs(rec.Attributes)
	var c recordCheck
	checkIdentity(&c, rec)

	email, err := a.requiredString("email")
	c.add(err)

	if err := c.err(TypeCalendarAccount, string(rec.ID)); err != nil {
		return model.CalendarAccount{}, err
	}

	acct := model.CalendarAccount{
		ID:       string(rec.ID),
		Email:    email,
		Provider: a.optString("provider"),
	}

	if raw, ok := a.lookup("active_calendars"); ok {
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) == nil {
			for _, item := range items {
				var ac activeCalendar
				if json.Unmarshal(item, &ac) != nil {
					continue
				}
				acct.ActiveCalendars = append(acct.ActiveCalendars, model.ActiveCalendar{
					ID:       string(ac.ID),
					Name:     deref(ac.Name),
					Role:     deref(ac.Role),
					Editable: ac.Editable != nil && *ac.Editable,
				})
			}
		}
	}
	return acct, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
