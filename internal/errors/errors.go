// Package errors holds the error definitions shared by every statehist package.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error constructors carrying query context
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Lookup errors
	ErrNotFound          = errors.New("not found")
	ErrAttributeNotFound = errors.New("attribute not found")

	// Query errors
	ErrTimeRange      = errors.New("timestamp outside of valid range")
	ErrStateValueType = errors.New("unexpected state value type")
	ErrRuleCycle      = errors.New("aggregation rule cycle")

	// Lifecycle errors
	ErrDisposed      = errors.New("state system disposed")
	ErrHistoryClosed = errors.New("history already closed")

	// Storage errors
	ErrStorageIO        = errors.New("storage I/O error")
	ErrCorruptHeader    = errors.New("corrupt history file header")
	ErrVersionMismatch  = errors.New("version mismatch")
	ErrIntervalTooLarge = errors.New("interval does not fit in a node")

	// Validation errors
	ErrInvalidPath   = errors.New("invalid attribute path")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAttributeNotFound)
}

// IsTimeRange returns true if err reports a timestamp outside the history.
func IsTimeRange(err error) bool {
	return errors.Is(err, ErrTimeRange)
}

// IsStorageIO returns true if err comes from the storage layer. Header and
// version problems are storage errors too: the file must be rebuilt.
func IsStorageIO(err error) bool {
	return errors.Is(err, ErrStorageIO) ||
		errors.Is(err, ErrCorruptHeader) ||
		errors.Is(err, ErrVersionMismatch)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsLifecycle returns true if the state system can no longer serve the call.
func IsLifecycle(err error) bool {
	return errors.Is(err, ErrDisposed) ||
		errors.Is(err, ErrHistoryClosed)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewAttributeNotFound reports an unknown quark.
func NewAttributeNotFound(quark int) error {
	return fmt.Errorf("quark %d: %w", quark, ErrAttributeNotFound)
}

// NewPathNotFound reports a missing path segment on a strict lookup.
func NewPathNotFound(path []string) error {
	return fmt.Errorf("path %q: %w", path, ErrAttributeNotFound)
}

// NewTimeRange reports a timestamp outside [start, end].
func NewTimeRange(t, start, end int64) error {
	return fmt.Errorf("t=%d not in [%d, %d]: %w", t, start, end, ErrTimeRange)
}

// NewValueType reports a value of the wrong kind.
func NewValueType(expected, got string) error {
	return fmt.Errorf("expected %s, got %s: %w", expected, got, ErrStateValueType)
}

// NewStorageIO wraps a low-level I/O failure.
func NewStorageIO(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageIO, err)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
