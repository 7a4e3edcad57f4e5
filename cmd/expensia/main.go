package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"expensia/internal/amqp"
	"expensia/internal/cli"
	"expensia/internal/config"
	apphttp "expensia/internal/http"
	"expensia/internal/localstore"
	applog "expensia/internal/log"
	"expensia/internal/middleware/ratelimit"
	"expensia/internal/scheduler"
)

func main() {
	cli.LoadEnvFile()
	appLogger := cli.SetupLogger(os.Stdout, applog.ComponentApp)
	logger := appLogger.Logger

	cfg := cli.LoadAndValidateConfig(logger)

	backend := cli.InitBackend(logger, cfg)
	defer backend.Close()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store := cli.OpenStore(startCtx, logger, backend.KV)
	cloud := cli.InitCloud(startCtx, logger, cfg, store, cli.ConsentOpener(cfg))
	cli.ProbeCredential(startCtx, logger, cloud)
	cancelStart()

	engine := cli.NewEngine(cfg, store, cloud)

	// Change notifications go to the in-process scheduler or, in worker
	// mode, over AMQP to expensia-worker.
	var (
		sched      *scheduler.Scheduler
		amqpClient *amqp.Client
	)
	switch cfg.AutoBackupMode {
	case config.ModeWorker:
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		store.OnChange(func(ctx context.Context, c localstore.Collection) {
			go func() {
				if err := amqpClient.PublishDataChanged(context.WithoutCancel(ctx), string(c)); err != nil {
					logger.Warn("Failed to publish data change", "collection", c, "error", err)
				}
			}()
		})
		logger.Info("Auto-backup delegated to expensia-worker", "queue", cfg.AMQPQueue)

	default:
		if cloud.Enabled() {
			sched = scheduler.New(
				func(ctx context.Context) error {
					_, err := engine.Backup(ctx)
					return err
				},
				scheduler.Enabled(store, cloud.Auth),
				nil,
				scheduler.Config{Debounce: cfg.BackupDebounce, Interval: cfg.BackupInterval},
			)
			store.OnChange(func(context.Context, localstore.Collection) { sched.NotifyChange() })
		}
	}

	deps := apphttp.Deps{
		Store:    store,
		Settings: store,
		Backups:  engine,
		Logger:   appLogger,
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
		},
		TrustedProxies: cfg.TrustedProxies,
	}
	// A nil *Authenticator must not become a non-nil interface.
	if cloud.Enabled() {
		deps.Auth = cloud.Auth
	}
	if backend.Repo != nil {
		deps.Expenses = backend.Repo
		deps.Ready = backend.Repo.Ping
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, deps)
	if err != nil {
		logger.Error("Failed to create HTTP server", "error", err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if sched != nil {
			if err := sched.Stop(ctx); err != nil {
				logger.Error("Scheduler shutdown error", "error", err)
			}
		}
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			logger.Error("Failed to start auto-backup scheduler", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Starting expensia server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"cloud_backup", cloud.Enabled(),
		"auto_backup_mode", cfg.AutoBackupMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
