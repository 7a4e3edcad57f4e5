// Package backup uploads snapshots of the local store to the remote file
// store and restores the newest one.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"expensia/internal/clock"
	"expensia/internal/core"
	"expensia/internal/drive"
)

const (
	// NamePrefix marks every backup object; listing filters on it.
	NamePrefix = "expensia-backup-"

	DefaultKeep          = 10
	DefaultRemoteTimeout = 30 * time.Second
)

// Store is the slice of the local store the engines need. Generation must
// grow with every mutation.
type Store interface {
	Generation() uint64
	Snapshot() core.Snapshot
	ReplaceAll(ctx context.Context, snap core.Snapshot) error
	SetLastBackup(ctx context.Context, t time.Time) error
}

// Credentials hands out the bearer credential and forgets it when the remote
// rejects it. Invalidate only clears the cache while it still holds rejected.
type Credentials interface {
	Credential(ctx context.Context) (*oauth2.Token, error)
	Invalidate(ctx context.Context, rejected *oauth2.Token, cause error)
}

// NoCredentials is used when cloud backup is not configured; every remote
// operation fails with core.ErrNotAuthenticated before touching the remote.
var NoCredentials Credentials = noCredentials{}

type noCredentials struct{}

func (noCredentials) Credential(context.Context) (*oauth2.Token, error) {
	return nil, core.ErrNotAuthenticated
}

func (noCredentials) Invalidate(context.Context, *oauth2.Token, error) {}

type Config struct {
	// Keep is how many backups retention leaves on the remote.
	Keep          int
	RemoteTimeout time.Duration
	Retry         RetryOptions
}

type Engine struct {
	store  Store
	auth   Credentials
	remote drive.FileStore
	clock  clock.Clock
	cfg    Config

	flight   singleflight.Group
	op       sync.Mutex // one remote operation at a time
	inFlight atomic.Int32
}

func New(store Store, auth Credentials, remote drive.FileStore, clk clock.Clock, cfg Config) *Engine {
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultRemoteTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{store: store, auth: auth, remote: remote, clock: clk, cfg: cfg}
}

// InProgress reports whether a backup or restore is running.
func (e *Engine) InProgress() bool {
	return e.inFlight.Load() > 0
}

// BackupName is the object name for a backup taken at t. Names sort in
// creation order and carry no ':' so they are valid file names everywhere.
func BackupName(t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return NamePrefix + ts + ".json"
}

// Result describes a completed backup.
type Result struct {
	File      drive.File
	Timestamp time.Time

	// store generation the snapshot was taken at or after
	gen uint64
}

// Backup uploads the current state. Overlapping calls share a single upload
// and its result, unless that upload's snapshot predates the caller: then the
// caller waits for one more upload that includes its changes. Without a
// cached credential it fails with core.ErrNotAuthenticated before touching
// the network.
func (e *Engine) Backup(ctx context.Context) (Result, error) {
	if _, err := e.auth.Credential(ctx); err != nil {
		return Result{}, err
	}
	want := e.store.Generation()

	for {
		ch := e.flight.DoChan("backup", func() (any, error) {
			// The upload outlives any single caller; it is bounded by the
			// remote timeout instead.
			return e.backup(context.WithoutCancel(ctx))
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		if res.Err != nil {
			return Result{}, res.Err
		}
		r := res.Val.(Result)
		if r.gen >= want {
			if res.Shared {
				slog.DebugContext(ctx, "Joined in-flight backup")
			}
			return r, nil
		}
		slog.DebugContext(ctx, "Joined backup predates local changes, uploading again",
			"snapshot_generation", r.gen,
			"wanted_generation", want)
	}
}

func (e *Engine) backup(ctx context.Context) (Result, error) {
	e.op.Lock()
	defer e.op.Unlock()
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	tok, err := e.auth.Credential(ctx)
	if err != nil {
		return Result{}, err
	}

	start := e.clock.Now()
	// Read before the snapshot, so the snapshot holds at least gen.
	gen := e.store.Generation()
	snap := e.store.Snapshot()
	snap.Timestamp = start.UTC()

	payload, err := json.Marshal(snap)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode snapshot: %v", core.ErrBackupFailed, err)
	}

	name := BackupName(snap.Timestamp)
	uctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
	file, err := e.remote.Upload(uctx, name, payload)
	cancel()
	if err != nil {
		if drive.IsAuthError(err) {
			e.auth.Invalidate(ctx, tok, err)
		}
		slog.ErrorContext(ctx, "Backup upload failed", "name", name, "error", err)
		return Result{}, fmt.Errorf("%w: %w", core.ErrBackupFailed, err)
	}

	if err := e.store.SetLastBackup(ctx, snap.Timestamp); err != nil {
		// The upload succeeded; only the local bookkeeping is behind.
		slog.WarnContext(ctx, "Failed to record last backup time", "error", err)
	}

	slog.InfoContext(ctx, "Backup completed",
		"name", name,
		"file_id", file.ID,
		"expenses", len(snap.Expenses),
		"categories", len(snap.Categories),
		"bytes", len(payload),
		"duration", e.clock.Now().Sub(start))

	e.cleanup(ctx)

	return Result{File: file, Timestamp: snap.Timestamp, gen: gen}, nil
}

// cleanup deletes every backup beyond the newest Keep. Failures are logged.
func (e *Engine) cleanup(ctx context.Context) {
	lctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
	files, err := e.remote.List(lctx, NamePrefix)
	cancel()
	if err != nil {
		slog.WarnContext(ctx, "Retention listing failed", "error", err)
		return
	}
	if len(files) <= e.cfg.Keep {
		return
	}

	deleted := 0
	for _, f := range files[e.cfg.Keep:] {
		dctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
		err := e.remote.Delete(dctx, f.ID)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "Failed to delete old backup", "name", f.Name, "file_id", f.ID, "error", err)
			continue
		}
		deleted++
	}
	slog.InfoContext(ctx, "Old backups removed", "deleted", deleted, "kept", e.cfg.Keep)
}

// Latest returns the newest backup object.
func (e *Engine) Latest(ctx context.Context) (drive.File, error) {
	tok, err := e.auth.Credential(ctx)
	if err != nil {
		return drive.File{}, err
	}
	files, err := e.list(ctx, tok)
	if err != nil {
		return drive.File{}, err
	}
	if len(files) == 0 {
		return drive.File{}, core.ErrNoBackupFound
	}
	return files[0], nil
}

func (e *Engine) list(ctx context.Context, tok *oauth2.Token) ([]drive.File, error) {
	var files []drive.File
	err := withRetry(ctx, e.clock, e.cfg.Retry, func() error {
		lctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
		defer cancel()
		var err error
		files, err = e.remote.List(lctx, NamePrefix)
		return err
	})
	if err != nil {
		return nil, e.remoteError(ctx, tok, "list backups", err)
	}
	return files, nil
}

// remoteError forgets a rejected credential and reports it as
// core.ErrNotAuthenticated so callers can ask the user to sign in again.
func (e *Engine) remoteError(ctx context.Context, tok *oauth2.Token, op string, err error) error {
	if drive.IsAuthError(err) {
		e.auth.Invalidate(ctx, tok, err)
		return fmt.Errorf("%s: %w: %w", op, core.ErrNotAuthenticated, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
