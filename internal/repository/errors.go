package repository

import "errors"

// Repository errors
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey indicates a unique constraint rejected the insert.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict indicates a conditional update found a different stored state.
	ErrConflict = errors.New("conditional update conflict")
)

// Lock errors
var (
	// ErrLockNotAcquired indicates the lock could not be acquired.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrLockNotOwned indicates the lock is gone or held under another token.
	ErrLockNotOwned = errors.New("lock not owned")
)
