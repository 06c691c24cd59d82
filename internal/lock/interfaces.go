// Package lock serializes read-decide-write sequences on a single license key.
// A single node uses in-memory locks; a shared deployment uses Redis.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/repository"
)

// Locker defines the interface for distributed/local locking.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns acquired=false if it's held by another holder.
	// The lock expires after ttl. The returned token identifies this holder.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)

	// AcquireWithRetry retries up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (token string, acquired bool, err error)

	// Release returns repository.ErrLockNotOwned if the lock is no longer held under token.
	Release(ctx context.Context, key, token string) error

	// Extend returns repository.ErrLockNotOwned if the lock is no longer held under token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) error

	// IsHeld checks if the lock is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Options controls how a Guard waits for a lock.
type Options struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// OptionsFromConfig converts lock configuration into Options.
func OptionsFromConfig(cfg config.LockConfig) Options {
	return Options{
		TTL:        cfg.TTL,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}
}

// New builds the Locker selected by cfg.Backend.
// dl is required only for the redis backend.
func New(cfg config.LockConfig, dl repository.DistributedLock) (Locker, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryLocker(), nil
	case "redis":
		if dl == nil {
			return nil, fmt.Errorf("redis lock backend requires a redis connection")
		}
		return NewRedisLocker(dl), nil
	case "none":
		return NewNoOpLocker(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// Guard runs functions while holding a per-key lock.
type Guard struct {
	locker Locker
	opts   Options
}

// NewGuard creates a Guard.
func NewGuard(locker Locker, opts Options) *Guard {
	return &Guard{locker: locker, opts: opts}
}

// WithLock acquires key, runs fn, and releases key.
// Returns repository.ErrLockNotAcquired if the lock stays contended after all retries.
// Losing the lock before release is not reported; the store's conditional
// update still rejects a write based on stale state.
func (g *Guard) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token, acquired, err := g.locker.AcquireWithRetry(ctx, key, g.opts.TTL, g.opts.MaxRetries, g.opts.RetryDelay)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", repository.ErrLockNotAcquired, key)
	}

	// Release even when the caller's context was cancelled mid-operation.
	defer func() {
		_ = g.locker.Release(context.WithoutCancel(ctx), key, token)
	}()

	return fn(ctx)
}

// =============================================================================
// Lock Keys
// =============================================================================

// Keys provides lock key generation.
var Keys = lockKeys{}

type lockKeys struct{}

// LicenseKey returns the lock key guarding state transitions of one license key.
func (lockKeys) LicenseKey(key string) string {
	return "lock:license:" + key
}
