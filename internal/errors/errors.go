// Package errors consolidates error definitions for the beacon service.
//
// It provides sentinel errors for storage and ingestion conditions, category
// checking helpers, HTTP status mapping, and wrapping utilities.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Sentinel errors
// =============================================================================

var (
	// Storage errors
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrStorageClosed       = errors.New("storage is closed")

	// Not found errors
	ErrNotFound        = errors.New("not found")
	ErrSessionNotFound = errors.New("session not found")

	// Validation errors
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidSessionID  = errors.New("invalid session identifier")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrMissingField      = errors.New("missing required field")

	// Lookup errors (address geolocation)
	ErrLookupFailed = errors.New("geolocation lookup failed")
	ErrTimeout      = errors.New("timeout")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// New is a convenience wrapper for errors.New.
var New = errors.New

// =============================================================================
// Category helpers
// =============================================================================

// IsStorage returns true if err indicates the backing store cannot be reached
// or refused the operation.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrStorageClosed) ||
		errors.Is(err, ErrConstraintViolation)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidSessionID) ||
		errors.Is(err, ErrInvalidCoordinate) ||
		errors.Is(err, ErrInvalidEventType) ||
		errors.Is(err, ErrMissingField)
}

// IsRetriable returns true if the error is potentially transient.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrLookupFailed)
}

// =============================================================================
// HTTP status mapping
// =============================================================================

// HTTPStatus maps an error to the HTTP status code the API should return.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case Is(err, ErrConstraintViolation):
		return http.StatusConflict
	case Is(err, ErrStorageUnavailable), Is(err, ErrStorageClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// Wrapping utilities
// =============================================================================

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

// NewUnavailable creates a storage-unavailable error with backend context.
func NewUnavailable(backend string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", backend, ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %v: %w", backend, cause, ErrStorageUnavailable)
}

// NewConstraint creates a constraint-violation error with context.
func NewConstraint(backend string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", backend, ErrConstraintViolation)
	}
	return fmt.Errorf("%s: %v: %w", backend, cause, ErrConstraintViolation)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// =============================================================================
// Validation errors collection
// =============================================================================

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
