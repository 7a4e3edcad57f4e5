package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"expensia/internal/backup"
	"expensia/internal/clock"
	"expensia/internal/cloudauth"
	"expensia/internal/config"
	"expensia/internal/drive"
	drivegoogle "expensia/internal/drive/google"
	"expensia/internal/localstore"
)

// Cloud is the authenticator and the remote file store. Both are nil when no
// OAuth client is configured.
type Cloud struct {
	Auth   *cloudauth.Authenticator
	Remote *drivegoogle.Client
}

// Enabled reports whether cloud backup is configured.
func (c Cloud) Enabled() bool { return c.Auth != nil }

// Credentials returns the engine's credential source. Without a configured
// client every cloud operation fails with core.ErrNotAuthenticated.
func (c Cloud) Credentials() backup.Credentials {
	if c.Auth == nil {
		return backup.NoCredentials
	}
	return c.Auth
}

// FileStore returns the remote as an interface, nil when not configured.
func (c Cloud) FileStore() drive.FileStore {
	if c.Remote == nil {
		return nil
	}
	return c.Remote
}

// ConsentOpener picks how the consent URL reaches the user.
func ConsentOpener(cfg *config.Config) cloudauth.Opener {
	if cfg.OpenBrowser {
		return cloudauth.BrowserOpener()
	}
	return cloudauth.PrintOpener(os.Stderr)
}

// NewCloud builds the authenticator and its Drive client.
func NewCloud(ctx context.Context, cfg *config.Config, store *localstore.Store, opener cloudauth.Opener) (Cloud, error) {
	auth, err := NewAuthenticator(cfg, store, opener)
	if err != nil {
		return Cloud{}, err
	}
	if auth == nil {
		return Cloud{}, nil
	}
	remote, err := drivegoogle.New(ctx, auth)
	if err != nil {
		return Cloud{}, fmt.Errorf("create drive client: %w", err)
	}
	auth.SetProber(remote)
	return Cloud{Auth: auth, Remote: remote}, nil
}

// InitCloud is NewCloud that exits the process on failure.
func InitCloud(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *localstore.Store, opener cloudauth.Opener) Cloud {
	cloud, err := NewCloud(ctx, cfg, store, opener)
	if err != nil {
		logger.Error("Failed to initialize cloud backup", "error", err)
		os.Exit(1)
	}
	if !cloud.Enabled() {
		logger.Info("Cloud backup disabled - no Google OAuth client configured")
	}
	return cloud
}

// NewEngine builds the backup engine over the store and the cloud remote.
func NewEngine(cfg *config.Config, store *localstore.Store, cloud Cloud) *backup.Engine {
	return backup.New(store, cloud.Credentials(), cloud.FileStore(), clock.Real(), backup.Config{
		Keep:          cfg.BackupKeep,
		RemoteTimeout: cfg.RemoteTimeout,
	})
}

// ProbeCredential checks a cached credential against the remote at startup.
// A rejected credential is cleared; other failures are only logged.
func ProbeCredential(ctx context.Context, logger *slog.Logger, cloud Cloud) {
	if !cloud.Enabled() {
		return
	}
	ok, err := cloud.Auth.IsAuthenticated(ctx)
	if err != nil || !ok {
		return
	}
	if err := cloud.Auth.Probe(ctx); err != nil {
		logger.Warn("Cached cloud credential is not usable", "error", err)
		return
	}
	logger.Info("Cached cloud credential verified")
}
