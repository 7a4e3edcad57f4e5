package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyTitle        = errors.New("empty title")
	ErrTitleTooLong      = errors.New("title too long (max 200 characters)")
	ErrEmptyCategory     = errors.New("empty category")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrNotFound          = errors.New("not found")
)

// Cloud backup error taxonomy.
var (
	ErrAuthCancelled       = errors.New("authentication cancelled")
	ErrAuthBlocked         = errors.New("authentication window could not be opened")
	ErrAuthDenied          = errors.New("authentication denied: no token received")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrBackupFailed        = errors.New("backup failed")
	ErrNoBackupFound       = errors.New("no backup found")
	ErrInvalidBackupFormat = errors.New("invalid backup format")
)

// ValidationError reports which field of an entity was rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
