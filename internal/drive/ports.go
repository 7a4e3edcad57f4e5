// Package drive defines the remote file store used for cloud backups.
package drive

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
)

// File is the metadata of a stored object.
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedTime time.Time `json:"createdTime"`
	Size        int64     `json:"size"`
}

// Ports for outbound adapters.
type (
	// FileStore lists, uploads, downloads and deletes objects. List returns
	// objects whose name contains the given substring, newest first.
	FileStore interface {
		List(ctx context.Context, nameContains string) ([]File, error)
		Upload(ctx context.Context, name string, content []byte) (File, error)
		Download(ctx context.Context, id string) ([]byte, error)
		Delete(ctx context.Context, id string) error
	}

	// Prober issues a lightweight authorized request to check a credential.
	Prober interface {
		Probe(ctx context.Context) error
	}
)

// IsAuthError reports whether err is the remote rejecting the credential.
func IsAuthError(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		return !isRateLimit(gerr)
	}
	return false
}

// IsTransient reports whether retrying the same idempotent call may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return true
		}
		return gerr.Code == http.StatusForbidden && isRateLimit(gerr)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}

func isRateLimit(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}
