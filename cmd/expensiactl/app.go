package main

import (
	"context"
	"errors"
	"log/slog"

	"expensia/internal/backup"
	"expensia/internal/cli"
	"expensia/internal/config"
	"expensia/internal/localstore"
)

var errCloudDisabled = errors.New("cloud backup is not configured: set GOOGLE_OAUTH_CLIENT_FILE or GOOGLE_OAUTH_CLIENT_ID")

// app is everything a command needs, opened from the environment.
type app struct {
	cfg     *config.Config
	backend cli.Backend
	store   *localstore.Store
	cloud   cli.Cloud
	engine  *backup.Engine
}

func openApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.Default()
	backend := cli.InitBackend(logger, cfg)
	store, err := localstore.Open(ctx, backend.KV)
	if err != nil {
		backend.Close()
		return nil, err
	}
	cloud, err := cli.NewCloud(ctx, cfg, store, cli.ConsentOpener(cfg))
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		backend: backend,
		store:   store,
		cloud:   cloud,
		engine:  cli.NewEngine(cfg, store, cloud),
	}, nil
}

func (a *app) Close() error {
	return a.backend.Close()
}

func (a *app) requireCloud() error {
	if !a.cloud.Enabled() {
		return errCloudDisabled
	}
	return nil
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
