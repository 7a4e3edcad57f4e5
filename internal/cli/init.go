// Package cli provides common CLI initialization utilities shared by
// cmd/expensia, cmd/expensia-worker, cmd/expensiactl and cmd/oauth-init.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"expensia/internal/cloudauth"
	"expensia/internal/config"
	"expensia/internal/localstore"
	applog "expensia/internal/log"
	"expensia/internal/storage"
	"expensia/internal/storage/memory"
)

// SetupLogger initializes structured logging from LOG_LEVEL and LOG_FORMAT,
// writing to w. Returns the configured logger and sets it as the default
// logger.
func SetupLogger(w io.Writer, component string) *applog.Logger {
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(os.Getenv("LOG_LEVEL")),
		Format:    os.Getenv("LOG_FORMAT"),
		Component: component,
		Output:    w,
	})
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *slog.Logger, dbPath string) *storage.SQLiteRepository {
	sqliteRepo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", dbPath)
		os.Exit(1)
	}
	logger.Info("SQLite repository ready", "path", dbPath, "schema_version", sqliteRepo.SchemaVersion())
	return sqliteRepo
}

// Backend is the opened key-value store plus the relational repository when
// the sqlite backend is selected.
type Backend struct {
	KV   localstore.KV
	Repo *storage.SQLiteRepository
}

// Close releases the database, if any.
func (b Backend) Close() error {
	if b.Repo != nil {
		return b.Repo.Close()
	}
	return nil
}

// InitBackend opens the data backend selected by DATA_BACKEND.
func InitBackend(logger *slog.Logger, cfg *config.Config) Backend {
	switch cfg.DataBackend {
	case "sqlite":
		repo := InitSQLite(logger, cfg.SQLiteDBPath)
		return Backend{KV: repo, Repo: repo}
	default:
		logger.Warn("Using in-memory backend, data will not survive a restart")
		return Backend{KV: memory.NewKV()}
	}
}

// OpenStore loads the local store or exits the process on failure.
func OpenStore(ctx context.Context, logger *slog.Logger, kv localstore.KV) *localstore.Store {
	store, err := localstore.Open(ctx, kv)
	if err != nil {
		logger.Error("Failed to open local store", "error", err)
		os.Exit(1)
	}
	return store
}

// NewAuthenticator builds the cloud authenticator from configuration.
// Returns nil when no OAuth client is configured.
func NewAuthenticator(cfg *config.Config, store *localstore.Store, opener cloudauth.Opener) (*cloudauth.Authenticator, error) {
	if !cfg.CloudConfigured() {
		return nil, nil
	}
	oauthCfg, err := cloudauth.OAuthConfig(cfg.GoogleOAuthClientFile, cfg.GoogleOAuthClientID, cfg.GoogleOAuthClientSecret)
	if err != nil {
		return nil, fmt.Errorf("load OAuth client: %w", err)
	}
	return cloudauth.New(cloudauth.Config{
		OAuth:        oauthCfg,
		ListenAddr:   cfg.OAuthListenAddr(),
		ProbeTimeout: cfg.RemoteTimeout,
	}, store, opener), nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-finished:
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
