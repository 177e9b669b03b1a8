package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"skylightcal/internal/skylight"
)

func newFramesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "frames",
		Short: "List the frames visible to the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var frames []skylight.Frame
			err := withClient(cmd.Context(), a.cfg, nil, func(c *skylight.Client) error {
				var err error
				frames, err = c.Frames(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}

			if len(frames) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No frames found.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSELECTED")
			for _, f := range frames {
				selected := ""
				if f.ID == a.cfg.FrameID {
					selected = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.ID, f.Name, selected)
			}
			return tw.Flush()
		},
	}
}
