package scheduler

import (
	"context"
	"log/slog"
)

// Flags exposes the persisted auto-backup switch.
type Flags interface {
	AutoBackupEnabled(ctx context.Context) (bool, error)
}

// AuthState reports whether a cloud credential is cached.
type AuthState interface {
	IsAuthenticated(ctx context.Context) (bool, error)
}

// Enabled opens the gate when auto-backup is switched on and a credential is
// cached. Read errors keep it closed.
func Enabled(flags Flags, auth AuthState) Gate {
	return func(ctx context.Context) bool {
		on, err := flags.AutoBackupEnabled(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Failed to read auto-backup flag", "error", err)
			return false
		}
		if !on {
			return false
		}
		ok, err := auth.IsAuthenticated(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Failed to read credential state", "error", err)
			return false
		}
		return ok
	}
}

// Before runs prepare ahead of gate, for callers that must refresh state
// first. A failing prepare closes the gate.
func Before(prepare func(ctx context.Context) error, gate Gate) Gate {
	return func(ctx context.Context) bool {
		if err := prepare(ctx); err != nil {
			slog.WarnContext(ctx, "Failed to refresh state before auto-backup", "error", err)
			return false
		}
		return gate(ctx)
	}
}
