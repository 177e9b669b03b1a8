package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"skylightcal/internal/ics"
	"skylightcal/internal/model"
)

func newAgendaCmd(a *app) *cobra.Command {
	var (
		input    string
		days     int
		backfill int
	)
	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "Print upcoming occurrences from an exported .ics file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" {
				input = a.cfg.Output
			}
			loc, err := a.location()
			if err != nil {
				return err
			}

			body, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("reading %s: %w", input, err)
			}
			events, err := ics.ParseDocument(input, body)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", input, err)
			}

			now := time.Now().In(loc)
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
			res, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
				DisplayLocation: loc,
				RangeStart:      today.AddDate(0, 0, -backfill),
				RangeEnd:        today.AddDate(0, 0, days),
			})
			if err != nil {
				return err
			}
			printAgenda(cmd.OutOrStdout(), res.Occurrences)
			for _, uid := range res.TruncatedEvents {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s has more occurrences than shown\n", uid)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Exported .ics file (default: config output)")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days ahead to show")
	cmd.Flags().IntVar(&backfill, "backfill", 0, "Number of past days to include")
	return cmd
}

func printAgenda(w io.Writer, occs []model.Occurrence) {
	if len(occs) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}
	var day string
	for _, o := range occs {
		if d := o.Start.Format("Mon 2006-01-02"); d != day {
			if day != "" {
				fmt.Fprintln(w)
			}
			day = d
			fmt.Fprintln(w, d)
		}
		when := "all day    "
		if !o.AllDay {
			when = o.Start.Format("15:04") + "-" + o.End.Format("15:04")
		}
		line := "  " + when + "  " + o.Summary
		if o.Location != "" {
			line += " @ " + o.Location
		}
		fmt.Fprintln(w, line)
	}
}
