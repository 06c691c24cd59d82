package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/repository"
)

// =============================================================================
// Map-backed repositories
// =============================================================================

// MockKeyRepository is an in-memory repository.KeyRepository that honors
// uniqueness and conditional updates.
type MockKeyRepository struct {
	mu      sync.Mutex
	records map[string]*domain.KeyRecord
	order   []string
	nextID  int64

	// failCreateAfter makes every Create after that many successes fail.
	failCreateAfter int
	creates         int
	createErr       error

	// conflicts forces that many ErrConflict results from UpdateConditional.
	conflicts int
	getErr    error
}

func NewMockKeyRepository() *MockKeyRepository {
	return &MockKeyRepository{
		records:         make(map[string]*domain.KeyRecord),
		nextID:          1,
		failCreateAfter: -1,
	}
}

func (m *MockKeyRepository) Create(_ context.Context, key *domain.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreateAfter >= 0 && m.creates >= m.failCreateAfter {
		return m.createErr
	}
	if _, exists := m.records[key.Key]; exists {
		return fmt.Errorf("%w: %s", repository.ErrDuplicateKey, key.Key)
	}
	m.creates++
	key.ID = m.nextID
	m.nextID++
	stored := *key
	m.records[key.Key] = &stored
	m.order = append(m.order, key.Key)
	return nil
}

func (m *MockKeyRepository) GetByKey(_ context.Context, key string) (*domain.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MockKeyRepository) UpdateConditional(_ context.Context, key string, expected, next domain.KeyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return repository.ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		return repository.ErrConflict
	}
	if !rec.State().Equal(expected) {
		return repository.ErrConflict
	}
	rec.Apply(next)
	return nil
}

func (m *MockKeyRepository) DeleteByKey(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; !ok {
		return 0, nil
	}
	delete(m.records, key)
	return 1, nil
}

func (m *MockKeyRepository) List(_ context.Context) ([]*domain.KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.KeyRecord
	for _, k := range m.order {
		if rec, ok := m.records[k]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// stored returns the record as persisted, bypassing error injection.
func (m *MockKeyRepository) stored(key string) *domain.KeyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// MockAuditRepository records appended events.
type MockAuditRepository struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
}

func (m *MockAuditRepository) Append(_ context.Context, event *domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *MockAuditRepository) ListRecent(_ context.Context, limit int) ([]*domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.AuditEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *MockAuditRepository) actions() []domain.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditAction, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}

func (m *MockAuditRepository) last() *domain.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

// =============================================================================
// testify mocks
// =============================================================================

type mockKeyRepository struct {
	mock.Mock
}

func (m *mockKeyRepository) Create(ctx context.Context, key *domain.KeyRecord) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockKeyRepository) GetByKey(ctx context.Context, key string) (*domain.KeyRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KeyRecord), args.Error(1)
}

func (m *mockKeyRepository) UpdateConditional(ctx context.Context, key string, expected, next domain.KeyState) error {
	args := m.Called(ctx, key, expected, next)
	return args.Error(0)
}

func (m *mockKeyRepository) DeleteByKey(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockKeyRepository) List(ctx context.Context) ([]*domain.KeyRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KeyRecord), args.Error(1)
}

// =============================================================================
// Clock and tokens
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedTokens returns the scripted tokens first, then err if set, otherwise
// a numbered sequence.
type scriptedTokens struct {
	mu       sync.Mutex
	scripted []string
	err      error
	n        int
}

func (s *scriptedTokens) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scripted) > 0 {
		t := s.scripted[0]
		s.scripted = s.scripted[1:]
		return t, nil
	}
	if s.err != nil {
		return "", s.err
	}
	s.n++
	return fmt.Sprintf("KEYS-TEST-0000-%04d", s.n), nil
}
