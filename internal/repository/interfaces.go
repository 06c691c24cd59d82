// Package repository defines data access interfaces for keygate.
// These interfaces abstract database operations, allowing for different implementations
// (SQLite, PostgreSQL, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"

	"github.com/prn-tf/keygate/internal/domain"
)

// =============================================================================
// Key Repository
// =============================================================================

// KeyRepository defines the interface for license key data access.
type KeyRepository interface {
	// Create inserts a new key and assigns its ID.
	// Returns ErrDuplicateKey if the token already exists.
	Create(ctx context.Context, key *domain.KeyRecord) error

	// GetByKey retrieves a key by its token.
	// Returns ErrNotFound if absent.
	GetByKey(ctx context.Context, key string) (*domain.KeyRecord, error)

	// UpdateConditional writes next only if the stored state equals expected.
	// Returns ErrNotFound if the key is absent and ErrConflict if the state moved.
	UpdateConditional(ctx context.Context, key string, expected, next domain.KeyState) error

	// DeleteByKey removes a key and returns the number of rows removed.
	DeleteByKey(ctx context.Context, key string) (int64, error)

	// List returns every key, oldest first.
	List(ctx context.Context) ([]*domain.KeyRecord, error)
}

// =============================================================================
// Audit Repository
// =============================================================================

// AuditRepository defines the interface for the append-only audit log.
type AuditRepository interface {
	// Append stores an event and assigns its ID.
	Append(ctx context.Context, event *domain.AuditEvent) error

	// ListRecent returns up to limit events, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.AuditEvent, error)
}

// =============================================================================
// Health
// =============================================================================

// DatabaseHealth is implemented by the database handles.
// It satisfies handler.DatabaseChecker for health endpoints.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// Migrator applies the embedded schema.
type Migrator interface {
	Migrate(ctx context.Context) error
	Version(ctx context.Context) (int, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Keys  KeyRepository
	Audit AuditRepository
}
