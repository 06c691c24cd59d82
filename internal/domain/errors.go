// Package domain contains the core business entities for keygate.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Key Errors
	// ===========================================

	// ErrKeyNotFound indicates the presented key token does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExpired indicates the key's validity window has passed.
	ErrKeyExpired = errors.New("key has expired")

	// ErrAlreadyActivated indicates the key is bound to a different owner.
	ErrAlreadyActivated = errors.New("key already activated by another user")

	// ErrHWIDBound indicates the owner tried to bind a new device without a reset.
	ErrHWIDBound = errors.New("key is bound to a different hardware id; reset it first")

	// ===========================================
	// Reset Errors
	// ===========================================

	// ErrNotOwner indicates the claimed identity does not own the key.
	ErrNotOwner = errors.New("key is not owned by this user")

	// ErrResetLimitExceeded indicates the owner has used all hardware resets.
	ErrResetLimitExceeded = errors.New("hwid reset limit exceeded")

	// ErrMissingCredential indicates neither an admin credential nor an owner identity was given.
	ErrMissingCredential = errors.New("admin_token or discord_id is required")

	// ===========================================
	// Request / Infrastructure Errors
	// ===========================================

	// ErrUnauthorized indicates a missing or invalid admin credential.
	ErrUnauthorized = errors.New("invalid or missing admin_token")

	// ErrValidation indicates malformed or missing request fields.
	ErrValidation = errors.New("validation failed")

	// ErrStorageFailure indicates the store is unavailable or a write conflicted.
	ErrStorageFailure = errors.New("storage failure")
)

// ValidationError describes which fields failed validation.
type ValidationError struct {
	Fields []string
	Reason string
}

// NewValidationError creates a ValidationError for the given fields.
func NewValidationError(reason string, fields ...string) *ValidationError {
	return &ValidationError{Fields: fields, Reason: reason}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrValidation.Error(), e.Reason, strings.Join(e.Fields, ", "))
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ResetLimitError reports the counts at which an owner reset was refused.
type ResetLimitError struct {
	Used int
	Max  int
}

func (e *ResetLimitError) Error() string {
	return fmt.Sprintf("%s (%d/%d)", ErrResetLimitExceeded.Error(), e.Used, e.Max)
}

// Unwrap makes errors.Is(err, ErrResetLimitExceeded) hold.
func (e *ResetLimitError) Unwrap() error {
	return ErrResetLimitExceeded
}

// PartialGenerationError reports a batch generation that stopped early.
// Persisted lists the keys that were stored before the failure.
type PartialGenerationError struct {
	Requested int
	Persisted []string
	Err       error
}

func (e *PartialGenerationError) Error() string {
	return fmt.Sprintf("generated %d of %d keys: %v", len(e.Persisted), e.Requested, e.Err)
}

// Unwrap returns the failure that stopped the batch.
func (e *PartialGenerationError) Unwrap() error {
	return e.Err
}

// Code returns the taxonomy name of err, used in API responses and metrics.
// Errors outside the taxonomy report "internal".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrKeyNotFound):
		return "not_found"
	case errors.Is(err, ErrKeyExpired):
		return "expired"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrAlreadyActivated):
		return "already_activated"
	case errors.Is(err, ErrHWIDBound):
		return "hwid_bound"
	case errors.Is(err, ErrResetLimitExceeded):
		return "reset_limit_exceeded"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	default:
		return "internal"
	}
}
