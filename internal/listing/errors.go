package listing

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies per-listing extraction failures.
type ErrorKind string

// Extraction failure kinds.
const (
	KindTimeout               ErrorKind = "timeout"
	KindNavigationFailed      ErrorKind = "navigation_failed"
	KindMissingField          ErrorKind = "missing_field"
	KindInvalid               ErrorKind = "invalid"
	KindPageGone              ErrorKind = "page_gone"
	KindAutomationUnavailable ErrorKind = "automation_unavailable"
)

// ExtractionError reports why a listing page could not become a Record.
type ExtractionError struct {
	Kind   ErrorKind
	URL    string
	Field  string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract %s: %s", e.URL, e.Kind)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could change the result.
func (e *ExtractionError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindNavigationFailed
}

// PersistenceKind classifies failures while committing a listing.
type PersistenceKind string

// Persistence failure kinds.
const (
	PersistUnwritable PersistenceKind = "unwritable"
	PersistWrite      PersistenceKind = "write"
	PersistIdentity   PersistenceKind = "identity"
)

// PersistenceError wraps a failure from the identity index or the on-disk store.
type PersistenceError struct {
	Kind      PersistenceKind
	ListingID string
	Path      string
	Err       error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("persist %s", e.Kind)
	if e.ListingID != "" {
		msg += " listing " + e.ListingID
	}
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure makes every later commit pointless.
func (e *PersistenceError) Fatal() bool {
	return e.Kind == PersistUnwritable
}

// ErrAborted marks a batch that stopped before all listings were attempted.
var ErrAborted = errors.New("batch aborted")

// IsFatal reports whether err should stop the whole batch.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	// Typed errors decide first: a navigation timeout wraps context.DeadlineExceeded
	// but only affects its own listing.
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind == KindAutomationUnavailable
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Fatal()
	}
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
