package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"skylightcal/internal/export"
	appLog "skylightcal/internal/log"
	"skylightcal/internal/metrics"
	"skylightcal/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Re-export on a schedule and serve the latest calendar over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Listen = listen
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	cfg := a.cfg
	loc, err := a.location()
	if err != nil {
		return err
	}
	if cfg.FrameID == "" {
		return export.ErrNoFrame
	}

	m := metrics.NewManager()
	store := &export.Store{}

	job := func(ctx context.Context) (*export.Result, error) {
		opts := export.OptionsFromConfig(cfg, loc, time.Now())
		opts.Recorder = m
		res, err := exportOnce(ctx, a, opts, m.ObserveRequest)
		if err != nil {
			return nil, err
		}
		if err := export.WriteFile(cfg.Output, res.Document); err != nil {
			appLog.Error("writing calendar failed; serving from memory", err, "path", cfg.Output)
		}
		return res, nil
	}

	sched, err := export.NewScheduler(cfg.RefreshCron, job, store)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(cfg, store, m.Handler()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sched.Start(ctx)
	appLog.Info("scheduler started", "refresh", cfg.RefreshCron, "next", sched.Next().Format(time.RFC3339))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		sched.Stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	sched.Stop()
	appLog.Info("skylightcal exiting")
	return nil
}
