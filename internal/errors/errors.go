// Package errors provides consolidated error definitions for the logtier
// application.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
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
	// Not found errors
	ErrNotFound       = errors.New("not found")
	ErrRecordNotFound = errors.New("record not found")
	ErrEntryNotFound  = errors.New("catalog entry not found")

	// Already exists errors
	ErrAlreadyExists       = errors.New("already exists")
	ErrRecordAlreadyExists = errors.New("record already exists")

	// Tier errors
	ErrUnknownTier      = errors.New("unknown tier")
	ErrInvalidTierOrder = errors.New("invalid tier order")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidRecord = errors.New("invalid record")
	ErrMissingField  = errors.New("missing required field")

	// Migration errors
	ErrMigrationInFlight   = errors.New("migration already in flight for record")
	ErrMigrationIncomplete = errors.New("migration incomplete")
	ErrSameTier            = errors.New("source and destination tier are the same")

	// Store errors
	ErrStoreUnavailable = errors.New("tier store unavailable")
	ErrCorruptRecord    = errors.New("corrupt record data")
	ErrStoreClosed      = errors.New("tier store is closed")

	// State errors
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
	ErrTimeout        = errors.New("timeout")

	// ErrCatalog marks a catalog persistence failure, as opposed to a
	// lookup miss or a rejected entry.
	ErrCatalog = errors.New("catalog error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownTier)
}

// IsRetriable returns true if the error is potentially retriable.
//
// A migration that failed before its catalog commit is always safe to retry
// from scratch; transient store outages, catalog persistence failures and
// timeouts are retriable with backoff. Not-found and validation errors are
// terminal.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCatalog) ||
		errors.Is(err, ErrMigrationIncomplete)
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

// NewUnknownTier creates an unknown-tier error with context.
func NewUnknownTier(name string) error {
	return fmt.Errorf("tier '%s': %w", name, ErrUnknownTier)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
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

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
