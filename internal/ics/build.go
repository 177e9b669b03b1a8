package ics

import (
	"bytes"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "skylightcal/internal/log"
	"skylightcal/internal/model"
)

// Stage is the Diagnostic.Stage value used by the builder.
const Stage = "build"

// DefaultVersion is the VERSION written when Builder.Version is empty.
const DefaultVersion = "2.0"

// AllDayProperty marks all-day events. DTSTART/DTEND stay UTC date-times,
// so readers need the marker to recover the whole-day span.
const AllDayProperty = ical.ComponentProperty("X-MICROSOFT-CDO-ALLDAYEVENT")

// Builder converts extracted events into a calendar document.
// The zero value is usable.
type Builder struct {
	// ProductID is written as PRODID.
	ProductID string
	// Version is written as VERSION; DefaultVersion when empty.
	Version string
	// Location is the observer zone for recurrence UNTIL dates.
	// Nil means time.Local.
	Location *time.Location
	// Now supplies CREATED, LAST-MODIFIED and DTSTAMP. Nil means time.Now.
	Now func() time.Time
}

// Document is a built calendar.
type Document struct {
	Calendar *ical.Calendar
}

// Len returns the number of VEVENT components.
func (d *Document) Len() int {
	return len(d.Calendar.Events())
}

// WriteTo serializes the document to w with CRLF line endings.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := d.Calendar.SerializeTo(cw, ical.WithNewLineWindows)
	if err == nil {
		// The serializer ignores errors on BEGIN/END lines.
		err = cw.err
	}
	return cw.n, err
}

// Bytes returns the serialized document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// countingWriter counts bytes and remembers the first write error.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// Build converts events in order. Events whose timestamps do not parse are
// left out and reported as diagnostics; nothing else is skipped.
func (b *Builder) Build(events []model.Event) (*Document, []model.Diagnostic) {
	cal := ical.NewCalendar()
	if b.ProductID != "" {
		cal.SetProductId(b.ProductID)
	}
	version := b.Version
	if version == "" {
		version = DefaultVersion
	}
	cal.SetVersion(version)

	var diags []model.Diagnostic
	for _, ev := range events {
		ve, err := b.BuildEvent(ev)
		if err != nil {
			appLog.Warn("event skipped", "id", ev.ID, "uid", ev.UID, "err", err)
			diags = append(diags, model.Diagnostic{
				Stage:      Stage,
				RecordType: ev.Type,
				RecordID:   ev.ID,
				Err:        err,
			})
			continue
		}
		cal.AddVEvent(ve)
	}

	appLog.Debug("calendar built", "events", len(events), "skipped", len(diags))
	return &Document{Calendar: cal}, diags
}

// BuildEvent converts a single event. The only error is
// *InvalidTimestampError.
func (b *Builder) BuildEvent(ev model.Event) (*ical.VEvent, error) {
	start, err := parseField(ev, "starts_at", ev.StartsAt)
	if err != nil {
		return nil, err
	}
	var end time.Time
	if ev.IsAllDay() {
		end = start.Add(24 * time.Hour)
	} else {
		end, err = parseField(ev, "ends_at", ev.EndsAt)
		if err != nil {
			return nil, err
		}
	}

	ve := ical.NewEvent(ev.UID)
	ve.SetSummary(ev.Summary)
	ve.SetStartAt(start)
	ve.SetEndAt(end)
	if ev.IsAllDay() {
		ve.SetProperty(AllDayProperty, "TRUE")
	}

	if ev.Location != nil && *ev.Location != "" {
		ve.SetLocation(*ev.Location)
	}
	if ev.TimeZone != nil && *ev.TimeZone != "" {
		ve.SetProperty(ical.ComponentPropertyTzid, *ev.TimeZone)
	}

	if ev.IsRecurring() && len(ev.RRule) > 0 && ev.RRule[0] != "" {
		rec := ParseRecurrence(ev.RRule[0], b.Location)
		if !rec.Converted() {
			appLog.Debug("recurrence kept verbatim", "uid", ev.UID, "rrule", rec.Raw)
		}
		ve.AddRrule(rec.String())
	}

	description := ""
	if ev.Description != nil {
		description = *ev.Description
	}
	ve.SetDescription(description)

	now := b.now()
	ve.SetCreatedTime(now)
	ve.SetModifiedAt(now)
	ve.SetDtStampTime(now)
	return ve, nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func parseField(ev model.Event, field string, value *string) (time.Time, error) {
	var raw string
	if value != nil {
		raw = *value
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, &InvalidTimestampError{EventID: ev.ID, Field: field, Value: raw, Err: err}
	}
	return t, nil
}
