package export

import (
	"fmt"
	"io"
	"time"
)

// AccountSummary describes one linked calendar account.
type AccountSummary struct {
	Email     string `json:"email"`
	Provider  string `json:"provider,omitempty"`
	Calendars int    `json:"calendars"`
}

// Summary is the JSON and console view of a run.
type Summary struct {
	RunID               string           `json:"run_id"`
	FinishedAt          time.Time        `json:"finished_at"`
	TotalEventCount     *int             `json:"total_event_count"`
	EventsExtracted     int              `json:"events_extracted"`
	CategoriesExtracted int              `json:"categories_extracted"`
	EventsExported      int              `json:"events_exported"`
	Accounts            []AccountSummary `json:"accounts"`
	Diagnostics         []string         `json:"diagnostics"`
}

// Summary condenses r.
func (r *Result) Summary() Summary {
	s := Summary{
		RunID:               r.RunID,
		FinishedAt:          r.FinishedAt,
		TotalEventCount:     r.TotalEventCount,
		EventsExtracted:     len(r.Events),
		CategoriesExtracted: len(r.Categories),
		EventsExported:      r.Exported(),
		Accounts:            make([]AccountSummary, 0, len(r.CalendarAccounts)),
		Diagnostics:         make([]string, 0, len(r.Diagnostics)),
	}
	for _, a := range r.CalendarAccounts {
		as := AccountSummary{Email: a.Email, Calendars: len(a.ActiveCalendars)}
		if a.Provider != nil {
			as.Provider = *a.Provider
		}
		s.Accounts = append(s.Accounts, as)
	}
	for _, d := range r.Diagnostics {
		s.Diagnostics = append(s.Diagnostics, d.String())
	}
	return s
}

// Print writes the human-readable run report.
func (s Summary) Print(w io.Writer) {
	total := "unknown"
	if s.TotalEventCount != nil {
		total = fmt.Sprint(*s.TotalEventCount)
	}
	fmt.Fprintf(w, "Total Events: %s\n", total)
	fmt.Fprintf(w, "Events extracted: %d\n", s.EventsExtracted)
	fmt.Fprintf(w, "Categories extracted: %d\n", s.CategoriesExtracted)
	fmt.Fprintf(w, "Events exported: %d\n", s.EventsExported)
	for _, a := range s.Accounts {
		fmt.Fprintf(w, "Calendar account %s: %d calendars\n", a.Email, a.Calendars)
	}
	if len(s.Diagnostics) > 0 {
		fmt.Fprintf(w, "Skipped records: %d\n", len(s.Diagnostics))
		for _, d := range s.Diagnostics {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
}
