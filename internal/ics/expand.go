package ics

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "skylightcal/internal/log"
	"skylightcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone occurrences are converted to.
	// Nil means time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the window, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps expansion of a single rule.
	// Zero means defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds occurrences sorted by start time.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents lists UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
	// InvalidRules lists UIDs whose RRULE could not be parsed; their
	// first instance is still returned.
	InvalidRules []string
}

// ExpandOccurrences expands events into concrete occurrences within the
// configured window. EXDATEs remove instances and RECURRENCE-ID overrides
// replace them.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, keeping first-seen order.
	var uids []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, ok := baseByUID[ev.UID]; !ok {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	for _, uid := range uids {
		ov := overridesByUID[uid]
		truncated, invalid := false, false

		for _, ev := range baseByUID[uid] {
			if ev.RawRRule == "" {
				result.Occurrences = append(result.Occurrences, expandSingleEvent(ev, ov, cfg)...)
				continue
			}
			occ, hitCap, err := expandRecurringEvent(ev, ov, cfg)
			if err != nil {
				appLog.Warn("expand: invalid RRULE, using first instance", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
				invalid = true
				occ = expandSingleEvent(ev, ov, cfg)
			}
			truncated = truncated || hitCap
			result.Occurrences = append(result.Occurrences, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
		if invalid {
			result.InvalidRules = append(result.InvalidRules, uid)
		}
	}

	slices.SortStableFunc(result.Occurrences, func(a, b model.Occurrence) int {
		return a.Start.Compare(b.Start)
	})
	return result, nil
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		start, end, ev = o.Start, o.End, o
	}
	return []model.Occurrence{makeOccurrence(ev, start, end, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool, error) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil, false, err
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event duration so instances that started
	// before the window but are still running are included.
	dur := ev.End.Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(rangeStart, rangeEnd, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, occStart := range starts {
		var occEnd time.Time
		if ev.AllDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart, occEnd = day, day.AddDate(0, 0, 1)
		} else {
			occEnd = occStart.Add(dur)
		}

		base := ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			occStart, occEnd, base = o.Start, o.End, o
		}
		out = append(out, makeOccurrence(base, occStart, occEnd, cfg.DisplayLocation))
	}
	return out, hitCap, nil
}

// findOverrideForStart returns the override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	startLocal, endLocal := start.In(displayLoc), end.In(displayLoc)
	if ev.AllDay {
		// All-day dates are floating: same calendar day in every zone.
		startLocal = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, displayLoc)
		endLocal = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, displayLoc)
	}
	return model.Occurrence{
		UID:         ev.UID,
		InstanceKey: ev.UID + "/" + startLocal.UTC().Format(time.RFC3339),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
