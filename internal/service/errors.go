// Package service runs the key lifecycle against the store.
package service

import (
	"errors"
	"fmt"

	"github.com/prn-tf/keygate/internal/domain"
)

// MaxWriteAttempts bounds load-decide-write rounds lost to concurrent writers.
const MaxWriteAttempts = 3

// ErrWriteConflict indicates every write attempt lost to a concurrent update.
var ErrWriteConflict = errors.New("key changed concurrently")

// storageError marks err as a StorageFailure while keeping the cause.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageFailure, err)
}
