package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/repository"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := newMemoryLocker(clock.Now)

	token, ok, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	held, err := m.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, m.Release(ctx, "k", token))

	err = m.Release(ctx, "k", token)
	assert.ErrorIs(t, err, repository.ErrLockNotOwned)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := newMemoryLocker(clock.Now)

	token, ok, _ := m.Acquire(ctx, "k", time.Second)
	require.True(t, ok)

	clock.Advance(500 * time.Millisecond)
	require.NoError(t, m.Extend(ctx, "k", token, time.Second))

	clock.Advance(900 * time.Millisecond)
	held, _ := m.IsHeld(ctx, "k")
	assert.True(t, held, "extension moved the deadline")

	clock.Advance(200 * time.Millisecond)
	_, ok, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is taken over")

	clock.Advance(2 * time.Second)
	m.cleanup()
	assert.Empty(t, m.locks)
}

func TestMemoryLocker_StaleHolderCannotReleaseSuccessor(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := newMemoryLocker(clock.Now)

	first, ok, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	second, ok, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	assert.ErrorIs(t, m.Release(ctx, "k", first), repository.ErrLockNotOwned)
	assert.ErrorIs(t, m.Extend(ctx, "k", first, time.Minute), repository.ErrLockNotOwned)

	held, err := m.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held, "successor keeps the lock")

	require.NoError(t, m.Release(ctx, "k", second))
	held, _ = m.IsHeld(ctx, "k")
	assert.False(t, held)
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	m := newMemoryLocker(time.Now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := m.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGuard_SerializesSameKey(t *testing.T) {
	m := NewMemoryLocker()
	defer m.Close()
	g := NewGuard(m, Options{TTL: time.Second, MaxRetries: 1000, RetryDelay: time.Millisecond})

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.WithLock(context.Background(), Keys.LicenseKey("ABCD"), func(context.Context) error {
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestGuard_NotAcquired(t *testing.T) {
	ctx := context.Background()
	m := newMemoryLocker(time.Now)
	_, ok, _ := m.Acquire(ctx, Keys.LicenseKey("ABCD"), time.Minute)
	require.True(t, ok)

	g := NewGuard(m, Options{TTL: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond})
	called := false
	err := g.WithLock(ctx, Keys.LicenseKey("ABCD"), func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, repository.ErrLockNotAcquired)
	assert.False(t, called)
}

func TestGuard_ReleasesOnError(t *testing.T) {
	ctx := context.Background()
	m := newMemoryLocker(time.Now)
	g := NewGuard(m, Options{TTL: time.Second})
	boom := errors.New("boom")

	err := g.WithLock(ctx, "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	held, _ := m.IsHeld(ctx, "k")
	assert.False(t, held)
}

func TestNew(t *testing.T) {
	tests := []struct {
		backend string
		want    any
		wantErr bool
	}{
		{backend: "memory", want: &MemoryLocker{}},
		{backend: "none", want: &NoOpLocker{}},
		{backend: "redis", wantErr: true},
		{backend: "zookeeper", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			l, err := New(config.LockConfig{Backend: tt.backend}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, l)
			if m, ok := l.(*MemoryLocker); ok {
				m.Close()
			}
		})
	}
}

func TestKeys_LicenseKey(t *testing.T) {
	assert.Equal(t, "lock:license:ABCD-EFGH-2345-6789", Keys.LicenseKey("ABCD-EFGH-2345-6789"))
}
