package lock

import (
	"context"
	"time"
)

// NoOpLocker always succeeds. Selected by lock.backend "none", where
// conditional updates in the store are the only concurrency control.
type NoOpLocker struct{}

// NewNoOpLocker creates a new no-op locker.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

func (n *NoOpLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (string, bool, error) {
	return "", true, ctx.Err()
}

func (n *NoOpLocker) AcquireWithRetry(ctx context.Context, _ string, _ time.Duration, _ int, _ time.Duration) (string, bool, error) {
	return "", true, ctx.Err()
}

func (n *NoOpLocker) Release(ctx context.Context, _, _ string) error {
	return ctx.Err()
}

func (n *NoOpLocker) Extend(ctx context.Context, _, _ string, _ time.Duration) error {
	return ctx.Err()
}

// IsHeld always returns false.
func (n *NoOpLocker) IsHeld(ctx context.Context, _ string) (bool, error) {
	return false, ctx.Err()
}

var _ Locker = (*NoOpLocker)(nil)
