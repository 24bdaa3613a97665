package domain

import (
	"errors"
	"fmt"
)

// Resolution errors, surfaced when a URL cannot be turned into variants.
var (
	ErrUnsupportedURL     = errors.New("unsupported url")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrAuthRequired       = errors.New("authentication required")
	ErrNoVariants         = errors.New("no downloadable variants found")
)

// Transfer errors. The engine retries stream and disk failures; cancellation
// is reported as context.Canceled by the executor.
var (
	ErrStreamInterrupted = errors.New("stream interrupted")
	ErrDiskIO            = errors.New("disk i/o failed")
)

// Usage errors, returned synchronously to the API caller. They never change
// job state.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrVariantNotFound = errors.New("variant not found")
	ErrInvalidLimit    = errors.New("concurrency limit must be at least 1")
	ErrShuttingDown    = errors.New("engine is shutting down")
)

// StateError rejects an operation that is invalid for the job's current state.
type StateError struct {
	Op    string
	State JobState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s a job in state %q", e.Op, e.State)
}

// Retryable reports whether a transfer failure should go through the
// automatic retry path. Cancellations and resolution-level rejections
// never retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrStreamInterrupted) || errors.Is(err, ErrDiskIO)
}
