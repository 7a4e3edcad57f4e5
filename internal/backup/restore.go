package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"expensia/internal/core"
)

// maxImportBytes bounds documents read from local files.
const maxImportBytes = 32 << 20

// Restore replaces local state with the newest remote backup. Local state
// is left untouched on every failure.
func (e *Engine) Restore(ctx context.Context) (core.Snapshot, error) {
	tok, err := e.auth.Credential(ctx)
	if err != nil {
		return core.Snapshot{}, err
	}

	e.op.Lock()
	defer e.op.Unlock()
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	files, err := e.list(ctx, tok)
	if err != nil {
		return core.Snapshot{}, err
	}
	if len(files) == 0 {
		return core.Snapshot{}, core.ErrNoBackupFound
	}
	latest := files[0]

	var payload []byte
	err = withRetry(ctx, e.clock, e.cfg.Retry, func() error {
		dctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
		defer cancel()
		var err error
		payload, err = e.remote.Download(dctx, latest.ID)
		return err
	})
	if err != nil {
		return core.Snapshot{}, e.remoteError(ctx, tok, "download backup "+latest.Name, err)
	}

	snap, err := Decode(payload)
	if err != nil {
		slog.ErrorContext(ctx, "Backup file rejected", "name", latest.Name, "error", err)
		return core.Snapshot{}, err
	}
	if err := e.store.ReplaceAll(ctx, snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("apply backup: %w", err)
	}

	slog.InfoContext(ctx, "Restore completed",
		"name", latest.Name,
		"file_id", latest.ID,
		"expenses", len(snap.Expenses),
		"categories", len(snap.Categories),
		"backup_time", snap.Timestamp)
	return snap, nil
}

// Decode parses a backup document. The three collections must all be
// present; anything else yields core.ErrInvalidBackupFormat.
func Decode(data []byte) (core.Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.Snapshot{}, fmt.Errorf("%w: %v", core.ErrInvalidBackupFormat, err)
	}
	for _, key := range []string{"expenses", "categories", "budgetSettings"} {
		raw, ok := doc[key]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return core.Snapshot{}, fmt.Errorf("%w: missing %q", core.ErrInvalidBackupFormat, key)
		}
	}

	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("%w: %v", core.ErrInvalidBackupFormat, err)
	}
	return snap.Clone(), nil
}

// Export writes the current state as a backup document.
func (e *Engine) Export(ctx context.Context, w io.Writer) error {
	snap := e.store.Snapshot()
	snap.Timestamp = e.clock.Now().UTC()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	slog.InfoContext(ctx, "Data exported", "expenses", len(snap.Expenses), "categories", len(snap.Categories))
	return nil
}

// Import replaces local state with a document read from r, validated the
// same way as a remote backup.
func (e *Engine) Import(ctx context.Context, r io.Reader) (core.Snapshot, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImportBytes+1))
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("read import: %w", err)
	}
	if len(data) > maxImportBytes {
		return core.Snapshot{}, fmt.Errorf("%w: document exceeds %d bytes", core.ErrInvalidBackupFormat, maxImportBytes)
	}

	snap, err := Decode(data)
	if err != nil {
		return core.Snapshot{}, err
	}

	e.op.Lock()
	defer e.op.Unlock()
	if err := e.store.ReplaceAll(ctx, snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("apply import: %w", err)
	}
	slog.InfoContext(ctx, "Data imported", "expenses", len(snap.Expenses), "categories", len(snap.Categories))
	return snap, nil
}
