// Package export runs the fetch, extract and build pipeline and keeps the
// latest result for serve mode.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"skylightcal/internal/config"
	"skylightcal/internal/extract"
	"skylightcal/internal/ics"
	appLog "skylightcal/internal/log"
	"skylightcal/internal/model"
	"skylightcal/internal/skylight"
)

// ErrNoFrame is returned when no frame id is configured.
var ErrNoFrame = errors.New("export: no frame id configured")

// Source fetches the calendar document of a frame.
type Source interface {
	CalendarEventsRange(ctx context.Context, frameID string, after, before time.Time, window time.Duration) (*skylight.Document, error)
}

// Recorder receives run outcomes; *metrics.Manager implements it.
type Recorder interface {
	ObserveRun(elapsed time.Duration, extracted, exported int, diags []model.Diagnostic, err error)
}

// Options configures one run.
type Options struct {
	FrameID string
	After   time.Time
	Before  time.Time
	// Window splits [After, Before) into several requests; zero means one.
	Window time.Duration

	Builder  *ics.Builder
	Recorder Recorder
}

// Result is the outcome of a run.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Document *ics.Document

	// Extraction output, for summaries.
	TotalEventCount  *int
	Events           []model.Event
	Categories       []model.Category
	CalendarAccounts []model.CalendarAccount

	// Diagnostics lists every record skipped by extraction or building.
	Diagnostics []model.Diagnostic
}

// Exported returns the number of VEVENTs in the document.
func (r *Result) Exported() int {
	if r.Document == nil {
		return 0
	}
	return r.Document.Len()
}

// Run fetches, extracts and builds. Record-level problems end up in
// Result.Diagnostics; only fetch failures and bad options return an error.
func Run(ctx context.Context, src Source, opts Options) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	err := run(ctx, src, opts, res)
	res.FinishedAt = time.Now()

	if opts.Recorder != nil {
		opts.Recorder.ObserveRun(res.FinishedAt.Sub(res.StartedAt), len(res.Events), res.Exported(), res.Diagnostics, err)
	}
	if err != nil {
		appLog.Error("export run failed", err, "run_id", res.RunID)
		return nil, err
	}

	appLog.Info("export run finished",
		"run_id", res.RunID,
		"events", len(res.Events),
		"exported", res.Exported(),
		"skipped", len(res.Diagnostics),
		"elapsed", res.FinishedAt.Sub(res.StartedAt).String(),
	)
	return res, nil
}

func run(ctx context.Context, src Source, opts Options, res *Result) error {
	if opts.FrameID == "" {
		return ErrNoFrame
	}
	if src == nil {
		return errors.New("export: no source")
	}
	builder := opts.Builder
	if builder == nil {
		builder = &ics.Builder{}
	}

	appLog.Info("export run start",
		"run_id", res.RunID,
		"frame_id", opts.FrameID,
		"after", opts.After.UTC().Format(time.RFC3339),
		"before", opts.Before.UTC().Format(time.RFC3339),
	)

	doc, err := src.CalendarEventsRange(ctx, opts.FrameID, opts.After, opts.Before, opts.Window)
	if err != nil {
		return fmt.Errorf("fetching calendar events: %w", err)
	}

	ex := extract.Extract(doc)
	res.TotalEventCount = ex.TotalEventCount
	res.Events = ex.Events
	res.Categories = ex.Categories
	res.CalendarAccounts = ex.CalendarAccounts
	res.Diagnostics = append(res.Diagnostics, ex.Diagnostics...)

	built, diags := builder.Build(ex.Events)
	res.Document = built
	res.Diagnostics = append(res.Diagnostics, diags...)

	for _, d := range res.Diagnostics {
		appLog.Warn("record skipped", "stage", d.Stage, "type", d.RecordType, "id", d.RecordID, "err", d.Err)
	}
	return nil
}

// Window returns the request range for cfg around now. Both ends are
// aligned to UTC midnight, so runs on the same day request the same URL.
func Window(cfg *config.Config, now time.Time) (after, before time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	after = day.AddDate(0, 0, -cfg.HistoryDays)
	before = day.AddDate(0, 0, cfg.HorizonDays+1)
	return after, before
}

// OptionsFromConfig derives run options from cfg. loc is the observer
// location for recurrence UNTIL dates.
func OptionsFromConfig(cfg *config.Config, loc *time.Location, now time.Time) Options {
	after, before := Window(cfg, now)
	return Options{
		FrameID: cfg.FrameID,
		After:   after,
		Before:  before,
		Window:  time.Duration(cfg.WindowDays) * 24 * time.Hour,
		Builder: &ics.Builder{
			ProductID: cfg.ProductID,
			Location:  loc,
		},
	}
}

// WriteFile writes the document atomically with mode 0644.
func WriteFile(path string, doc *ics.Document) error {
	if doc == nil {
		return errors.New("export: nil document")
	}
	data, err := doc.Bytes()
	if err != nil {
		return fmt.Errorf("serializing calendar: %w", err)
	}
	if err := config.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	appLog.Info("calendar written", "path", path, "events", doc.Len())
	return nil
}
