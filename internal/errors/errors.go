// Package errors consolidates error definitions for the event catalog.
//
// It provides sentinel errors for every failure class in the ingestion
// pipeline, category checking functions used to decide containment
// (record-level vs cycle-level), and wrapping utilities.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Fetch errors - network level, retried next cycle.
	ErrFetch        = errors.New("fetch failed")
	ErrFetchTimeout = errors.New("fetch timeout")

	// Record errors - contained at the record, batch continues.
	ErrParse      = errors.New("parse error")
	ErrValidation = errors.New("validation error")

	// Store errors.
	ErrStore       = errors.New("store error")
	ErrNotFound    = errors.New("not found")
	ErrStoreClosed = errors.New("store is closed")

	// Config errors.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// ============================================================================
// Category helpers
// ============================================================================

// IsFetch returns true if err is a source fetch failure. Fetch failures
// degrade the source for the cycle but never fail the cycle.
func IsFetch(err error) bool {
	return errors.Is(err, ErrFetch) || errors.Is(err, ErrFetchTimeout)
}

// IsRecordError returns true if err is contained at the record level.
// A record error discards the record and the batch continues.
func IsRecordError(err error) bool {
	return errors.Is(err, ErrParse) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingField)
}

// IsRetriable returns true if the operation may succeed on a later cycle.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrFetchTimeout) ||
		errors.Is(err, ErrFetch) ||
		errors.Is(err, ErrStore)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrMissingField)
}

// ============================================================================
// Wrapping utilities
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
// Constructors with context
// ============================================================================

// NewParse creates a record-level parse error.
func NewParse(source, detail string) error {
	return fmt.Errorf("%s: %s: %w", source, detail, ErrParse)
}

// NewValidation creates a record-level validation error.
func NewValidation(field, reason string) error {
	return fmt.Errorf("%s: %s: %w", field, reason, ErrValidation)
}

// NewMissingField creates a missing required field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidConfig creates a configuration validation error.
func NewInvalidConfig(field, reason string) error {
	return fmt.Errorf("%s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s %q: %w", entityType, identifier, ErrNotFound)
}
