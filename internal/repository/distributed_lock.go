package repository

import (
	"context"
	"time"
)

// =============================================================================
// Distributed Lock Interface (Redis)
// =============================================================================

// DistributedLock defines the interface for distributed locking.
// Used to coordinate per-key read-modify-write across server instances.
//
// Acquire hands out a token identifying the holder. Release and Extend only
// act on a lock that still carries that token and return ErrLockNotOwned
// otherwise, so a holder whose lock expired cannot touch its successor's.
type DistributedLock interface {
	// Acquire attempts to acquire a lock.
	// Returns acquired=false if it's held by another process.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (token string, acquired bool, err error)

	// Release releases a lock held under token.
	Release(ctx context.Context, key, token string) error

	// Extend extends the TTL of a lock held under token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) error

	// IsHeld checks if the lock is currently held by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}
