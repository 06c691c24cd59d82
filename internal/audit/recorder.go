// Package audit writes lifecycle events to the append-only audit log.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/metrics"
	"github.com/prn-tf/keygate/internal/repository"
)

// Recorder accepts audit events.
type Recorder interface {
	// Record stores event. Failures are logged, never returned: a lost audit
	// entry must not fail the operation that produced it.
	Record(ctx context.Context, event *domain.AuditEvent)
}

// writeTimeout bounds a single append issued from the background queue.
const writeTimeout = 5 * time.Second

// SyncRecorder appends each event on the caller's goroutine.
type SyncRecorder struct {
	repo    repository.AuditRepository
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewSyncRecorder creates a SyncRecorder.
func NewSyncRecorder(repo repository.AuditRepository, m *metrics.Metrics, logger zerolog.Logger) *SyncRecorder {
	return &SyncRecorder{
		repo:    repo,
		metrics: m,
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// Record appends event.
func (r *SyncRecorder) Record(ctx context.Context, event *domain.AuditEvent) {
	if event == nil {
		return
	}
	write(ctx, r.repo, event, "sync", r.metrics, r.logger)
}

// AsyncRecorder appends events from one background goroutine in arrival order.
// When the queue is full the caller waits for room until its context ends; an
// event whose caller gives up first is dropped and logged.
type AsyncRecorder struct {
	repo    repository.AuditRepository
	metrics *metrics.Metrics
	logger  zerolog.Logger

	queue chan *domain.AuditEvent
	done  chan struct{}

	// mu guards closed and sends on queue against Close.
	mu     sync.RWMutex
	closed bool
}

// NewAsyncRecorder starts the background writer.
func NewAsyncRecorder(repo repository.AuditRepository, bufferSize int, m *metrics.Metrics, logger zerolog.Logger) *AsyncRecorder {
	if bufferSize < 1 {
		bufferSize = 1
	}

	r := &AsyncRecorder{
		repo:    repo,
		metrics: m,
		logger:  logger.With().Str("component", "audit").Logger(),
		queue:   make(chan *domain.AuditEvent, bufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues event. After Close it writes event directly.
func (r *AsyncRecorder) Record(ctx context.Context, event *domain.AuditEvent) {
	if event == nil {
		return
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		write(ctx, r.repo, event, "sync", r.metrics, r.logger)
		return
	}
	defer r.mu.RUnlock()

	select {
	case r.queue <- event:
		r.metrics.SetAuditQueueDepth(len(r.queue))
		return
	default:
	}

	select {
	case r.queue <- event:
		r.metrics.SetAuditQueueDepth(len(r.queue))
	case <-ctx.Done():
		r.metrics.ObserveAuditWrite("dropped", ctx.Err())
		r.logger.Error().
			Err(ctx.Err()).
			Str("action", string(event.Action)).
			Str("key", event.Key).
			Int("queue_size", cap(r.queue)).
			Msg("audit queue full, event dropped")
	}
}

// Close stops accepting queued events and waits until the queue is drained.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)

	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		write(ctx, r.repo, event, "async", r.metrics, r.logger)
		cancel()
		r.metrics.SetAuditQueueDepth(len(r.queue))
	}
}

func write(ctx context.Context, repo repository.AuditRepository, event *domain.AuditEvent, mode string, m *metrics.Metrics, logger zerolog.Logger) {
	err := repo.Append(ctx, event)
	m.ObserveAuditWrite(mode, err)
	if err != nil {
		logger.Error().
			Err(err).
			Str("action", string(event.Action)).
			Str("key", event.Key).
			Str("mode", mode).
			Msg("failed to write audit event")
	}
}

var (
	_ Recorder = (*SyncRecorder)(nil)
	_ Recorder = (*AsyncRecorder)(nil)
)
