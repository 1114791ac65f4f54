package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the registries.
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExists   = errors.New("device already exists")
	ErrInvalidDevice  = errors.New("invalid device")
	ErrUnknownTier    = errors.New("unknown tier")
	ErrEmptyContact   = errors.New("contact must not be empty")
	ErrNotOpen        = errors.New("engine is not open")
	ErrStopped        = errors.New("engine is stopping")
)

// AppError reports an application definition that does not fit the app
// schema.
type AppError struct {
	// Path is the offending field, empty when the definition as a whole
	// is wrong.
	Path    []string
	Message string
}

func (e *AppError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("invalid app: %s", e.Message)
	}
	return fmt.Sprintf("invalid app: %s: %s", strings.Join(e.Path, "."), e.Message)
}

// IsAppError returns true if err is or wraps an *AppError.
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// JobError is a queued job that failed in the run loop.
type JobError struct {
	Kind JobKind
	ID   string
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
