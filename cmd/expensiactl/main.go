package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"expensia/internal/cli"
	applog "expensia/internal/log"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "expensiactl",
		Short: "Manage Expensia data and Google Drive backups",
		Long: `expensiactl works on the same data as the expensia server: it signs in to
Google Drive, runs and restores backups, and moves data in and out as JSON
documents.

Configuration comes from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cli.LoadEnvFile()
			cli.SetupLogger(cmd.ErrOrStderr(), applog.ComponentCLI)
		},
	}

	root.AddCommand(authCmd())
	root.AddCommand(signOutCmd())
	root.AddCommand(probeCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(importCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(autoBackupCmd())

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
