package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/keygate/internal/repository"
)

// MemoryLocker implements Locker using in-process locks.
// Locks are not shared across process restarts or multiple instances.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type lockEntry struct {
	expiresAt time.Time
	token     string
}

// NewMemoryLocker creates a new in-memory locker with a background sweeper.
func NewMemoryLocker() *MemoryLocker {
	m := newMemoryLocker(time.Now)
	go m.cleanupLoop(30 * time.Second)
	return m
}

func newMemoryLocker(now func() time.Time) *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]lockEntry),
		now:   now,
		stop:  make(chan struct{}),
	}
}

// Close stops the background sweeper.
func (m *MemoryLocker) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryLocker) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryLocker) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.locks {
		if !now.Before(entry.expiresAt) {
			delete(m.locks, key)
		}
	}
}

// Acquire attempts to acquire a lock. An expired lock is taken over.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.live(key); held {
		return "", false, nil
	}

	token := uuid.NewString()
	m.locks[key] = lockEntry{
		expiresAt: m.now().Add(ttl),
		token:     token,
	}
	return token, true, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, bool, error) {
	for i := 0; i <= maxRetries; i++ {
		token, acquired, err := m.Acquire(ctx, key, ttl)
		if err != nil {
			return "", false, err
		}
		if acquired {
			return token, true, nil
		}

		if i < maxRetries {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return "", false, nil
}

// Release releases a lock held under token.
func (m *MemoryLocker) Release(ctx context.Context, key, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok || entry.token != token {
		return fmt.Errorf("%w: %s", repository.ErrLockNotOwned, key)
	}
	delete(m.locks, key)
	return nil
}

// Extend extends the TTL of a lock held under token.
func (m *MemoryLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok || entry.token != token {
		return fmt.Errorf("%w: %s", repository.ErrLockNotOwned, key)
	}
	entry.expiresAt = m.now().Add(ttl)
	m.locks[key] = entry
	return nil
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(key)
	return ok, nil
}

// live returns the entry for key, dropping it if expired. Caller holds m.mu.
func (m *MemoryLocker) live(key string) (lockEntry, bool) {
	entry, exists := m.locks[key]
	if !exists {
		return lockEntry{}, false
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.locks, key)
		return lockEntry{}, false
	}
	return entry, true
}

var _ Locker = (*MemoryLocker)(nil)
