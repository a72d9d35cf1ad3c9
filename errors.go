package rtp

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("rtp: not found")
	ErrInvalidEvent = errors.New("rtp: invalid connection event")
	ErrInvalidDate  = errors.New("rtp: invalid date")

	// Grant errors
	ErrConflict            = errors.New("rtp: grant state changed concurrently")
	ErrContentionExhausted = errors.New("rtp: grant retries exhausted under contention")

	// Store errors
	ErrStoreNotReady = errors.New("rtp: store not ready")
	ErrStoreClosed   = errors.New("rtp: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("rtp: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if a grant cycle failing with err may be re-run
// from a fresh read.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
