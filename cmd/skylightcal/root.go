package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"skylightcal/internal/config"
	appLog "skylightcal/internal/log"
)

const version = "0.1.0"

// app holds state shared by all subcommands after PersistentPreRunE.
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "skylightcal",
		Short: "Export a Skylight frame calendar to an iCalendar file",
		Long: `skylightcal logs in to the Skylight API, fetches the calendar events of one
frame and writes them as an RFC 5545 .ics document. It can also list frames,
print an agenda from an exported file and serve the calendar over HTTP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "./skylightcal.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		newExportCmd(a),
		newFramesCmd(a),
		newLoginCmd(a),
		newAgendaCmd(a),
		newServeCmd(a),
	)
	return root
}

// load reads the config file and applies the log level.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", a.configPath, err)
	}
	a.cfg = cfg

	levelName := cfg.LogLevel
	if cmd.Flags().Changed("log-level") {
		levelName = a.logLevel
	}
	lvl, err := appLog.ParseLevel(levelName)
	if err != nil {
		return err
	}
	appLog.SetLevel(lvl)

	appLog.Debug("effective config",
		"config_path", a.configPath,
		"base_url", cfg.BaseURL,
		"frame_id", cfg.FrameID,
		"timezone", cfg.Timezone,
		"history_days", cfg.HistoryDays,
		"horizon_days", cfg.HorizonDays,
		"window_days", cfg.WindowDays,
		"output", cfg.Output,
	)
	return nil
}

// location resolves the configured observer zone. Empty means time.Local.
func (a *app) location() (*time.Location, error) {
	if a.cfg.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", a.cfg.Timezone, err)
	}
	return loc, nil
}

// parseDate accepts YYYY-MM-DD (UTC midnight) or RFC 3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("expected YYYY-MM-DD or RFC 3339 timestamp, got " + s)
	}
	return t.UTC(), nil
}
