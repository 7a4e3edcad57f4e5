package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"expensia/internal/amqp"
	"expensia/internal/cli"
	"expensia/internal/cloudauth"
	applog "expensia/internal/log"
	"expensia/internal/scheduler"
)

// expensia-worker runs auto-backups for a server started with
// AUTO_BACKUP_MODE=worker. Both processes share the SQLite database; the
// worker reloads it before every backup.
func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Stdout, applog.ComponentWorker).Logger

	logger.Info("Starting expensia-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for expensia-worker")
		os.Exit(1)
	}
	if cfg.DataBackend != "sqlite" {
		logger.Error("expensia-worker needs the sqlite backend shared with the server", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	backend := cli.InitBackend(logger, cfg)
	defer backend.Close()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store := cli.OpenStore(startCtx, logger, backend.KV)
	// The worker never runs the consent flow; the server owns sign-in.
	cloud := cli.InitCloud(startCtx, logger, cfg, store, cloudauth.PrintOpener(os.Stderr))
	cli.ProbeCredential(startCtx, logger, cloud)
	cancelStart()

	if !cloud.Enabled() {
		logger.Error("expensia-worker needs a Google OAuth client to back up")
		os.Exit(1)
	}

	engine := cli.NewEngine(cfg, store, cloud)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	sched := scheduler.New(
		func(ctx context.Context) error {
			_, err := engine.Backup(ctx)
			return err
		},
		scheduler.Before(store.Reload, scheduler.Enabled(store, cloud.Auth)),
		nil,
		scheduler.Config{Debounce: cfg.BackupDebounce, Interval: cfg.BackupInterval},
	)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := sched.Stop(ctx); err != nil {
			logger.Error("Scheduler shutdown error", "error", err)
		}
	})

	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start auto-backup scheduler", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.ConsumeDataChanged(gctx, func(ctx context.Context, msg *amqp.DataChangedMessage) error {
			logger.Debug("Data change received", "collection", msg.Collection, "sent_at", msg.Timestamp)
			sched.NotifyChange()
			return nil
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		_ = sched.Stop(context.Background())
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
