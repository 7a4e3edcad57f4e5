package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"expensia/internal/core"
	applog "expensia/internal/log"
)

// maxBodyBytes bounds JSON request bodies other than imports
const maxBodyBytes = 1 << 20

// errCloudDisabled is returned by backup endpoints when no OAuth client is
// configured.
var errCloudDisabled = errors.New("cloud backup is not configured")

var (
	errBadRequest   = errors.New("bad request")
	errMissingField = errors.New("required")
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode response", "error", err, "status", status)
	}
}

// writeSuccess wraps data in the success envelope. 204 writes no body.
func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data any) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, r, status, successEnvelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, errorResponse{Code: code, Message: message})
}

// handleError maps domain errors to status codes. Internal details of
// unexpected errors are logged, never returned.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	log := applog.FromContext(ctx)

	var (
		verr   *core.ValidationError
		maxErr *http.MaxBytesError
	)

	switch {
	case errors.As(err, &verr):
		log.WarnContext(ctx, "Validation failed", "field", verr.Field, "error", verr.Err)
		writeError(w, r, http.StatusBadRequest, "invalid_input", verr.Error())

	case errors.As(err, &maxErr):
		writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))

	case errors.Is(err, errBadRequest):
		log.WarnContext(ctx, "Malformed request", "error", err)
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())

	case errors.Is(err, core.ErrInvalidDate), errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidStatus), errors.Is(err, core.ErrInvalidPercentage):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())

	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, core.ErrNoBackupFound):
		writeError(w, r, http.StatusNotFound, "no_backup", err.Error())

	case errors.Is(err, core.ErrNotAuthenticated):
		writeError(w, r, http.StatusUnauthorized, "not_authenticated", "Sign in to Google Drive first")

	case errors.Is(err, core.ErrAuthDenied):
		log.WarnContext(ctx, "Authentication denied", "error", err)
		writeError(w, r, http.StatusUnauthorized, "auth_denied", core.ErrAuthDenied.Error())

	case errors.Is(err, core.ErrAuthCancelled):
		writeError(w, r, http.StatusUnauthorized, "auth_cancelled", core.ErrAuthCancelled.Error())

	case errors.Is(err, core.ErrAuthBlocked):
		writeError(w, r, http.StatusConflict, "auth_blocked", core.ErrAuthBlocked.Error())

	case errors.Is(err, core.ErrInvalidBackupFormat):
		log.WarnContext(ctx, "Backup document rejected", "error", err)
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_backup", err.Error())

	case errors.Is(err, core.ErrBackupFailed):
		log.ErrorContext(ctx, "Backup failed", "error", err)
		writeError(w, r, http.StatusBadGateway, "backup_failed", core.ErrBackupFailed.Error())

	case errors.Is(err, errCloudDisabled):
		writeError(w, r, http.StatusServiceUnavailable, "cloud_disabled", err.Error())

	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Client went away; nobody reads the response.
		log.DebugContext(ctx, "Request cancelled", "error", err)

	default:
		log.ErrorContext(ctx, "Unexpected error",
			"error", err,
			"type", fmt.Sprintf("%T", err))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// decodeJSON reads a single JSON object from the body, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return fmt.Errorf("%w: content type must be application/json", errBadRequest)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errBadRequest)
	}
	return nil
}
