package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"expensia/internal/backup"
	"expensia/internal/core"
	"expensia/internal/drive"
	applog "expensia/internal/log"
)

// BackupService runs cloud backups and local document transfers.
type BackupService interface {
	Backup(ctx context.Context) (backup.Result, error)
	Restore(ctx context.Context) (core.Snapshot, error)
	Latest(ctx context.Context) (drive.File, error)
	Export(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, r io.Reader) (core.Snapshot, error)
	InProgress() bool
}

// Authenticator signs the user in to the remote file store.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) (bool, error)
	Authenticate(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// BackupSettings holds the persisted backup flags.
type BackupSettings interface {
	LastBackup(ctx context.Context) (time.Time, error)
	AutoBackupEnabled(ctx context.Context) (bool, error)
	SetAutoBackupEnabled(ctx context.Context, enabled bool) error
}

type backupHandlers struct {
	backups  BackupService
	auth     Authenticator // nil when cloud backup is not configured
	settings BackupSettings
}

func (h *backupHandlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.status)
	r.Put("/auto", h.setAuto)

	r.Group(func(r chi.Router) {
		r.Use(h.requireCloud)
		r.Post("/auth", h.authenticate)
		r.Post("/signout", h.signOut)
		r.Post("/run", h.run)
		r.Post("/restore", h.restore)
		r.Get("/latest", h.latest)
	})
	return r
}

func (h *backupHandlers) requireCloud(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil {
			handleError(w, r, errCloudDisabled)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type backupStatus struct {
	CloudConfigured   bool       `json:"cloudConfigured"`
	Authenticated     bool       `json:"authenticated"`
	LastBackup        *time.Time `json:"lastBackup"`
	InProgress        bool       `json:"inProgress"`
	AutoBackupEnabled bool       `json:"autoBackupEnabled"`
}

func (h *backupHandlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := backupStatus{CloudConfigured: h.auth != nil, InProgress: h.backups.InProgress()}

	if h.auth != nil {
		ok, err := h.auth.IsAuthenticated(ctx)
		if err != nil {
			handleError(w, r, err)
			return
		}
		st.Authenticated = ok
	}

	last, err := h.settings.LastBackup(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !last.IsZero() {
		st.LastBackup = &last
	}

	if st.AutoBackupEnabled, err = h.settings.AutoBackupEnabled(ctx); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, st)
}

type autoBackupRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *backupHandlers) setAuto(w http.ResponseWriter, r *http.Request) {
	var req autoBackupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if req.Enabled == nil {
		handleError(w, r, &core.ValidationError{Field: "enabled", Err: errMissingField})
		return
	}
	if err := h.settings.SetAutoBackupEnabled(r.Context(), *req.Enabled); err != nil {
		handleError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Auto-backup toggled", "enabled", *req.Enabled)
	writeSuccess(w, r, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

// authenticate blocks until the user finishes or abandons the consent flow
// in the browser.
func (h *backupHandlers) authenticate(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Authenticate(r.Context()); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]bool{"authenticated": true})
}

func (h *backupHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context()); err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusNoContent, nil)
}

type backupRunResponse struct {
	File      drive.File `json:"file"`
	Timestamp time.Time  `json:"timestamp"`
}

func (h *backupHandlers) run(w http.ResponseWriter, r *http.Request) {
	res, err := h.backups.Backup(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, backupRunResponse{File: res.File, Timestamp: res.Timestamp})
}

type restoreResponse struct {
	Expenses   int       `json:"expenses"`
	Categories int       `json:"categories"`
	Timestamp  time.Time `json:"timestamp"`
}

func (h *backupHandlers) restore(w http.ResponseWriter, r *http.Request) {
	snap, err := h.backups.Restore(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, restoreResponse{
		Expenses:   len(snap.Expenses),
		Categories: len(snap.Categories),
		Timestamp:  snap.Timestamp,
	})
}

func (h *backupHandlers) latest(w http.ResponseWriter, r *http.Request) {
	f, err := h.backups.Latest(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, f)
}
