// Package lifecycle holds the license key state machine.
//
// Every operation is a pure decision over an already-loaded record: it returns a
// result plus, optionally, a Mutation to persist and an AuditEvent to append. The
// caller owns all I/O, which keeps the transition rules testable without a store.
package lifecycle

import (
	"strings"
	"time"

	"github.com/prn-tf/keygate/internal/domain"
)

// Clock returns the current time.
type Clock func() time.Time

// TokenGenerator produces fresh key tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// Mutation is a conditional write: apply Next to Key only if the stored state
// still equals Expected.
type Mutation struct {
	Key      string
	Expected domain.KeyState
	Next     domain.KeyState
}

// Decision is the outcome of an engine call.
type Decision[T any] struct {
	Result   T
	Mutation *Mutation
	Event    *domain.AuditEvent
}

// Engine applies the key lifecycle rules.
type Engine struct {
	now    Clock
	tokens TokenGenerator
}

// NewEngine creates an Engine. A nil clock uses time.Now.
func NewEngine(clock Clock, tokens TokenGenerator) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{now: clock, tokens: tokens}
}

// Now returns the engine's current time in UTC.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// =============================================================================
// Generation
// =============================================================================

// GenerateInput describes a batch of keys to issue.
type GenerateInput struct {
	Count        int
	ValidityDays int
	MaxResets    int
	Notes        string
}

// Batch is a set of unsaved records sharing one expiry.
type Batch struct {
	Records   []*domain.KeyRecord
	ExpiresAt time.Time
}

// NewBatch builds Count fresh records. Tokens are not checked against the store;
// the caller inserts them and calls Regenerate on a uniqueness violation.
func (e *Engine) NewBatch(in GenerateInput) (*Batch, error) {
	if in.Count < 1 {
		return nil, domain.NewValidationError("amount must be at least 1", "amount")
	}
	if in.ValidityDays < 1 {
		return nil, domain.NewValidationError("days must be positive", "days")
	}
	if in.MaxResets < 0 {
		return nil, domain.NewValidationError("max_resets must not be negative", "max_resets")
	}

	now := e.Now()
	validFor := time.Duration(in.ValidityDays) * domain.Day
	notes := domain.StringPtr(in.Notes)

	batch := &Batch{
		Records:   make([]*domain.KeyRecord, 0, in.Count),
		ExpiresAt: now.Add(validFor),
	}
	for i := 0; i < in.Count; i++ {
		token, err := e.tokens.Generate()
		if err != nil {
			return nil, err
		}
		batch.Records = append(batch.Records, domain.NewKeyRecord(token, now, validFor, in.MaxResets, notes))
	}
	return batch, nil
}

// Regenerate replaces the token of a record whose insert collided.
func (e *Engine) Regenerate(rec *domain.KeyRecord) error {
	token, err := e.tokens.Generate()
	if err != nil {
		return err
	}
	rec.Key = token
	return nil
}

// GeneratedEvent summarizes a persisted batch. Returns nil for an empty batch.
func (e *Engine) GeneratedEvent(keys []string, origin string) *domain.AuditEvent {
	if len(keys) == 0 {
		return nil
	}
	actor := domain.AdminActor
	return domain.NewAuditEvent(domain.AuditKeysGenerated, strings.Join(keys, ","), &actor, nil, origin, e.Now())
}
