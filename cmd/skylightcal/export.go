package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"skylightcal/internal/export"
	"skylightcal/internal/skylight"
)

// exitDiagnostics is the exit code for --strict runs that skipped records.
const exitDiagnostics = 3

type exportFlags struct {
	frame  string
	output string
	after  string
	before string
	strict bool
}

func newExportCmd(a *app) *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch the frame calendar and write it as an .ics file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, a, f)
		},
	}
	cmd.Flags().StringVar(&f.frame, "frame", "", "Frame id (overrides config)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output .ics path (overrides config)")
	cmd.Flags().StringVar(&f.after, "after", "", "Range start, YYYY-MM-DD or RFC 3339 (default: history_days ago)")
	cmd.Flags().StringVar(&f.before, "before", "", "Range end, YYYY-MM-DD or RFC 3339 (default: horizon_days ahead)")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Exit with status 3 when any record was skipped")
	return cmd
}

func runExport(cmd *cobra.Command, a *app, f exportFlags) error {
	cfg := a.cfg
	if f.frame != "" {
		cfg.FrameID = f.frame
	}
	if f.output != "" {
		cfg.Output = f.output
	}

	loc, err := a.location()
	if err != nil {
		return err
	}
	opts := export.OptionsFromConfig(cfg, loc, time.Now())
	if f.after != "" {
		if opts.After, err = parseDate(f.after); err != nil {
			return fmt.Errorf("--after: %w", err)
		}
	}
	if f.before != "" {
		if opts.Before, err = parseDate(f.before); err != nil {
			return fmt.Errorf("--before: %w", err)
		}
	}
	if !opts.Before.After(opts.After) {
		return errors.New("--before must be later than --after")
	}

	res, err := exportOnce(cmd.Context(), a, opts, nil)
	if err != nil {
		return err
	}
	if err := export.WriteFile(cfg.Output, res.Document); err != nil {
		return err
	}

	res.Summary().Print(cmd.OutOrStdout())
	fmt.Fprintf(cmd.OutOrStdout(), "Written: %s\n", cfg.Output)

	if f.strict && len(res.Diagnostics) > 0 {
		return &exitError{
			code: exitDiagnostics,
			err:  fmt.Errorf("%d records skipped", len(res.Diagnostics)),
		}
	}
	return nil
}

// exportOnce runs the pipeline with an authorized client.
func exportOnce(ctx context.Context, a *app, opts export.Options, observer skylight.RequestObserver) (*export.Result, error) {
	if opts.FrameID == "" {
		return nil, fmt.Errorf("%w: set frame_id in %s or pass --frame (see `skylightcal frames`)", export.ErrNoFrame, a.configPath)
	}
	var res *export.Result
	err := withClient(ctx, a.cfg, observer, func(c *skylight.Client) error {
		var err error
		res, err = export.Run(ctx, c, opts)
		return err
	})
	return res, err
}
