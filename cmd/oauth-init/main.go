// oauth-init signs a headless install in to Google Drive. It prints the
// consent URL instead of opening a browser and stores the granted credential
// in the configured database, where the server and worker pick it up.
//
// Forward OAUTH_REDIRECT_PORT from the machine running the browser when the
// install is remote, e.g. ssh -L 8085:127.0.0.1:8085 host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"expensia/internal/cli"
	"expensia/internal/cloudauth"
	applog "expensia/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Stderr, applog.ComponentAuth).Logger

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.CloudConfigured() {
		logger.Error("Set GOOGLE_OAUTH_CLIENT_FILE or GOOGLE_OAUTH_CLIENT_ID")
		os.Exit(1)
	}
	if cfg.DataBackend != "sqlite" {
		logger.Error("oauth-init stores the credential in SQLite; an in-memory backend would lose it", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	backend := cli.InitBackend(logger, cfg)
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cloudauth.DefaultConsentTimeout+time.Minute)
	defer cancel()

	store := cli.OpenStore(ctx, logger, backend.KV)
	cloud, err := cli.NewCloud(ctx, cfg, store, cloudauth.PrintOpener(os.Stdout))
	if err != nil {
		logger.Error("Failed to initialize cloud backup", "error", err)
		os.Exit(1)
	}

	if err := cloud.Auth.Authenticate(ctx); err != nil {
		logger.Error("Authorization failed", "error", err)
		os.Exit(1)
	}
	if err := cloud.Auth.Probe(ctx); err != nil {
		logger.Error("Credential was granted but Google Drive rejected it", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Signed in. Credential saved to %s\n", cfg.SQLiteDBPath)
}
