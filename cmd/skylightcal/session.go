package main

import (
	"context"
	"errors"
	"fmt"

	"skylightcal/internal/config"
	appLog "skylightcal/internal/log"
	"skylightcal/internal/skylight"
)

// errNoCredentials is returned when neither a cached session nor a password
// is available.
var errNoCredentials = errors.New("no cached session and no password configured; run `skylightcal login` or set " + config.EnvPassword)

// session returns the cached session, logging in with the configured
// credentials when none is cached.
func session(ctx context.Context, cfg *config.Config) (skylight.Session, error) {
	sess, err := skylight.LoadSession(cfg.SessionFile)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, skylight.ErrNoSession) {
		appLog.Warn("ignoring unreadable session file", "path", cfg.SessionFile, "err", err)
	}
	return login(ctx, cfg)
}

func login(ctx context.Context, cfg *config.Config) (skylight.Session, error) {
	if cfg.Email == "" || cfg.Password == "" {
		return skylight.Session{}, errNoCredentials
	}
	sess, err := skylight.Login(ctx, nil, cfg.BaseURL, cfg.Email, cfg.Password)
	if err != nil {
		return skylight.Session{}, err
	}
	if err := skylight.SaveSession(cfg.SessionFile, sess); err != nil {
		appLog.Error("failed to cache session", err, "path", cfg.SessionFile)
	}
	return sess, nil
}

// withClient runs fn with an authorized client. If the API rejects a cached
// session and credentials are configured, the session is discarded and fn
// runs once more after a fresh login.
func withClient(ctx context.Context, cfg *config.Config, observer skylight.RequestObserver, fn func(*skylight.Client) error) error {
	sess, err := session(ctx, cfg)
	if err != nil {
		return err
	}

	err = callWith(ctx, cfg, sess, observer, fn)
	if !errors.Is(err, skylight.ErrUnauthorized) || cfg.Password == "" {
		return err
	}

	appLog.Warn("cached session rejected, logging in again", "email", cfg.Email)
	if err := skylight.ClearSession(cfg.SessionFile); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	sess, err = login(ctx, cfg)
	if err != nil {
		return err
	}
	return callWith(ctx, cfg, sess, observer, fn)
}

func callWith(ctx context.Context, cfg *config.Config, sess skylight.Session, observer skylight.RequestObserver, fn func(*skylight.Client) error) error {
	opts := []skylight.Option{skylight.WithCacheDir(cfg.CacheDir)}
	if cfg.DumpDir != "" {
		opts = append(opts, skylight.WithDumpDir(cfg.DumpDir))
	}
	if observer != nil {
		opts = append(opts, skylight.WithObserver(observer))
	}
	client, err := skylight.NewClient(ctx, cfg.BaseURL, sess, opts...)
	if err != nil {
		return err
	}
	return fn(client)
}
