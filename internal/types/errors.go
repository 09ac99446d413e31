package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is the sentinel wrapped by NotFoundError; use errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a missing cell, message, or agent.
type NotFoundError struct {
	Kind string // "cell", "message", "agent"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError for the given kind and ID.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// AmbiguousIDError reports a partial cell ID matching more than one cell.
type AmbiguousIDError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("ambiguous ID %q matches %d cells: %s",
		e.Prefix, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// ValidationError reports input that fails a schema check. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidation builds a ValidationError for the given field.
func NewValidation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// LockContentionError reports an exhausted CAS retry budget for a resource.
type LockContentionError struct {
	Resource string
	Attempts int
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("lock contention on %s after %d attempts", e.Resource, e.Attempts)
}

// LockTimeoutError reports a lock held past the caller's patience.
type LockTimeoutError struct {
	Resource string
	Holder   string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for lock on %s (held by %s)", e.Resource, e.Holder)
}

// IntegrityError reports a schema-constraint breach, e.g. a duplicate
// message recipient. Fatal for the operation, not the process.
type IntegrityError struct {
	Constraint string
	Err        error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation (%s): %v", e.Constraint, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// RollbackError reports a failed epic creation where one or more
// compensating deletes also failed. Failed lists the cell IDs that could not
// be rolled back.
type RollbackError struct {
	Cause  error
	Failed []string
}

func (e *RollbackError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("epic creation failed (rolled back): %v", e.Cause)
	}
	return fmt.Sprintf("epic creation failed: %v; rollback failed for: %s",
		e.Cause, strings.Join(e.Failed, ", "))
}

func (e *RollbackError) Unwrap() error { return e.Cause }
