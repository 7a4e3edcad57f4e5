package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"expensia/internal/cli"
	"expensia/internal/core"
)

var errNotConfirmed = errors.New("this replaces all local data; pass --yes to confirm")

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Sign in to Google Drive",
		Long: `Opens the Google consent page and waits for you to grant access.

Set OPEN_BROWSER=false on a headless machine to print the URL instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.requireCloud(); err != nil {
					return err
				}
				if err := a.cloud.Auth.Authenticate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in to Google Drive\n", cli.Check(true))
				return nil
			})
		},
	}
}

func signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the cached Google Drive credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.requireCloud(); err != nil {
					return err
				}
				if err := a.cloud.Auth.SignOut(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Signed out\n", cli.Check(true))
				return nil
			})
		},
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check the cached credential against Google Drive",
		Long:  `Issues one authorized request. A rejected credential is cleared.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.requireCloud(); err != nil {
					return err
				}
				if err := a.cloud.Auth.Probe(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Credential accepted\n", cli.Check(true))
				return nil
			})
		},
	}
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload a backup to Google Drive now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.requireCloud(); err != nil {
					return err
				}
				res, err := a.engine.Backup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Backed up to %s\n", cli.Check(true), res.File.Name)
				return nil
			})
		},
	}
}

func restoreCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace local data with the newest Google Drive backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errNotConfirmed
			}
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.requireCloud(); err != nil {
					return err
				}
				snap, err := a.engine.Restore(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Restored %d expenses and %d categories from %s\n",
					cli.Check(true), len(snap.Expenses), len(snap.Categories), snap.Timestamp.Local().Format(time.DateTime))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm replacing local data")
	return cmd
}

func exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all data to a JSON document",
		Example: `  expensiactl export
  expensiactl export -o backup.json
  expensiactl export -o - | jq .expenses`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if output == "-" {
					return a.engine.Export(cmd.Context(), cmd.OutOrStdout())
				}
				if output == "" {
					output = fmt.Sprintf("expensia-export-%s.json", time.Now().Format(time.DateOnly))
				}
				f, err := os.OpenFile(output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				if err := a.engine.Export(cmd.Context(), f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("close export file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Exported to %s\n", cli.Check(true), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", `output file, "-" for stdout (default expensia-export-<date>.json)`)
	return cmd
}

func importCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace local data with a JSON document",
		Long:  `Reads a document written by export or a Google Drive backup. "-" reads stdin.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNotConfirmed
			}
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open import file: %w", err)
				}
				defer f.Close()
				r = f
			}
			return withApp(cmd.Context(), func(a *app) error {
				snap, err := a.engine.Import(cmd.Context(), r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Imported %d expenses and %d categories\n",
					cli.Check(true), len(snap.Expenses), len(snap.Categories))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm replacing local data")
	return cmd
}

func statusCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local data and backup state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				ctx := cmd.Context()
				rows := [][2]string{
					{"Expenses", fmt.Sprint(len(a.store.Expenses()))},
					{"Categories", fmt.Sprint(len(a.store.Categories()))},
				}

				auto, err := a.store.AutoBackupEnabled(ctx)
				if err != nil {
					return err
				}
				rows = append(rows, [2]string{"Auto-backup", onOff(auto)})

				last, err := a.store.LastBackup(ctx)
				if err != nil {
					return err
				}
				lastText := cli.SubtleStyle.Render("never")
				if !last.IsZero() {
					lastText = last.Local().Format(time.DateTime)
				}
				rows = append(rows, [2]string{"Last backup", lastText})

				cloudText := cli.WarningStyle.Render("not configured")
				if a.cloud.Enabled() {
					ok, err := a.cloud.Auth.IsAuthenticated(ctx)
					if err != nil {
						return err
					}
					cloudText = cli.Check(ok) + " signed out"
					if ok {
						cloudText = cli.Check(ok) + " signed in"
					}
					if ok && remote {
						rows = append(rows, [2]string{"Newest remote", latestText(cmd, a)})
					}
				}
				rows = append(rows, [2]string{"Google Drive", cloudText})

				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also look up the newest backup on Google Drive")
	return cmd
}

func latestText(cmd *cobra.Command, a *app) string {
	f, err := a.engine.Latest(cmd.Context())
	switch {
	case errors.Is(err, core.ErrNoBackupFound):
		return cli.SubtleStyle.Render("none")
	case err != nil:
		return cli.ErrorStyle.Render(err.Error())
	}
	return fmt.Sprintf("%s (%s)", f.Name, f.CreatedTime.Local().Format(time.DateTime))
}

func renderStatus(rows [][2]string) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, cli.TitleStyle.Render("Expensia"))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cli.LabelStyle.Render(r[0]), r[1]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func onOff(b bool) string {
	if b {
		return cli.SuccessStyle.Render("on")
	}
	return cli.SubtleStyle.Render("off")
}

func autoBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "auto-backup on|off",
		Short:     "Switch automatic backups on or off",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled := strings.EqualFold(args[0], "on")
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.store.SetAutoBackupEnabled(cmd.Context(), enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Auto-backup %s\n", cli.Check(true), onOff(enabled))
				return nil
			})
		},
	}
}
