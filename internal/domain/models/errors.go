package models

import (
	"fmt"
	"strings"
)

// RunIDConflictError reports an attempt to create or collect into a run
// directory that already exists and is non-empty, or that is already owned
// by an in-flight collector.
type RunIDConflictError struct {
	RunID    string
	Dir      string
	InFlight bool
}

func (e *RunIDConflictError) Error() string {
	if e.InFlight {
		return fmt.Sprintf("run %s: directory %s is owned by another collector", e.RunID, e.Dir)
	}
	return fmt.Sprintf("run %s: directory %s already exists and is non-empty", e.RunID, e.Dir)
}

// CollectionFailedError reports a failed collection stream. Partial means
// pages were durably persisted before the failure; the checkpoint remains
// intact for resume.
type CollectionFailedError struct {
	RunID   string
	Stream  string
	Partial bool
	Err     error
}

func (e *CollectionFailedError) Error() string {
	return fmt.Sprintf("run %s: %s collection failed (partial=%t): %v", e.RunID, e.Stream, e.Partial, e.Err)
}

func (e *CollectionFailedError) Unwrap() error { return e.Err }

// RateLimitExceededError is raised when the backoff retry ceiling is
// exhausted on throttling responses. It unwraps to a partial
// CollectionFailedError so callers handling the broader class see it too.
type RateLimitExceededError struct {
	RunID    string
	Stream   string
	Attempts int

	inner *CollectionFailedError
}

// NewRateLimitExceeded builds the error with its CollectionFailed cause.
func NewRateLimitExceeded(runID, stream string, attempts int, cause error) *RateLimitExceededError {
	return &RateLimitExceededError{
		RunID:    runID,
		Stream:   stream,
		Attempts: attempts,
		inner: &CollectionFailedError{
			RunID:   runID,
			Stream:  stream,
			Partial: true,
			Err:     cause,
		},
	}
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("run %s: %s rate limit exceeded after %d attempts", e.RunID, e.Stream, e.Attempts)
}

func (e *RateLimitExceededError) Unwrap() error { return e.inner }

// ChecksumMismatchError names every artifact whose recorded and recomputed
// digests differ.
type ChecksumMismatchError struct {
	RunID string
	Paths []string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("run %s: checksum mismatch: %s", e.RunID, strings.Join(e.Paths, ", "))
}

// MissingArtifactError reports a manifest-referenced path with no backing file.
type MissingArtifactError struct {
	RunID string
	Path  string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("run %s: missing artifact: %s", e.RunID, e.Path)
}

// ManifestInvalidError names the first manifest field that failed validation.
type ManifestInvalidError struct {
	RunID  string
	Field  string
	Reason string
}

func (e *ManifestInvalidError) Error() string {
	return fmt.Sprintf("run %s: manifest invalid: field %s: %s", e.RunID, e.Field, e.Reason)
}

// RunNotPublishableError blocks finalize when verification or validation
// failed. Already-written data artifacts are never mutated.
type RunNotPublishableError struct {
	RunID string
	Err   error
}

func (e *RunNotPublishableError) Error() string {
	return fmt.Sprintf("run %s: not publishable: %v", e.RunID, e.Err)
}

func (e *RunNotPublishableError) Unwrap() error { return e.Err }
