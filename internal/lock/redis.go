package lock

import (
	"context"
	"time"

	"github.com/prn-tf/keygate/internal/repository"
)

// RedisLocker adapts a repository.DistributedLock to Locker so license
// transitions are serialized across every server instance sharing Redis.
type RedisLocker struct {
	dl repository.DistributedLock
}

// NewRedisLocker creates a new RedisLocker.
func NewRedisLocker(dl repository.DistributedLock) *RedisLocker {
	return &RedisLocker{dl: dl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return l.dl.Acquire(ctx, key, ttl)
}

func (l *RedisLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, bool, error) {
	return l.dl.AcquireWithRetry(ctx, key, ttl, maxRetries, retryDelay)
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return l.dl.Release(ctx, key, token)
}

func (l *RedisLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	return l.dl.Extend(ctx, key, token, ttl)
}

func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	return l.dl.IsHeld(ctx, key)
}

var _ Locker = (*RedisLocker)(nil)
