package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/repository"
)

const keyColumns = `id, key, discord_id, hwid, created_at, expires_at, activated, hwid_resets, max_resets, notes`

// keyRepository implements repository.KeyRepository.
type keyRepository struct {
	q Querier
}

// NewKeyRepository creates a new PostgreSQL key repository.
func NewKeyRepository(db *DB) repository.KeyRepository {
	return &keyRepository{q: db.Pool}
}

// Create inserts a new key.
func (r *keyRepository) Create(ctx context.Context, key *domain.KeyRecord) error {
	query := `
		INSERT INTO keys (key, discord_id, hwid, created_at, expires_at, activated, hwid_resets, max_resets, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		key.Key,
		key.DiscordID,
		key.HWID,
		key.CreatedAt,
		key.ExpiresAt,
		key.Activated,
		key.HWIDResets,
		key.MaxResets,
		key.Notes,
	).Scan(&key.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateKey, key.Key)
		}
		return fmt.Errorf("failed to create key: %w", err)
	}

	return nil
}

// GetByKey retrieves a key by its token.
func (r *keyRepository) GetByKey(ctx context.Context, key string) (*domain.KeyRecord, error) {
	rec, err := scanKey(r.q.QueryRow(ctx, `SELECT `+keyColumns+` FROM keys WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return rec, nil
}

// UpdateConditional writes next only if the stored mutable fields equal expected.
func (r *keyRepository) UpdateConditional(ctx context.Context, key string, expected, next domain.KeyState) error {
	query := `
		UPDATE keys
		SET activated = $1, discord_id = $2, hwid = $3, hwid_resets = $4
		WHERE key = $5
		  AND activated = $6
		  AND discord_id IS NOT DISTINCT FROM $7::text
		  AND hwid IS NOT DISTINCT FROM $8::text
		  AND hwid_resets = $9
	`

	tag, err := r.q.Exec(ctx, query,
		next.Activated,
		next.DiscordID,
		next.HWID,
		next.HWIDResets,
		key,
		expected.Activated,
		expected.DiscordID,
		expected.HWID,
		expected.HWIDResets,
	)
	if err != nil {
		return fmt.Errorf("failed to update key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM keys WHERE key = $1)`, key).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check key: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// DeleteByKey removes a key.
func (r *keyRepository) DeleteByKey(ctx context.Context, key string) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM keys WHERE key = $1`, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete key: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns every key, oldest first.
func (r *keyRepository) List(ctx context.Context) ([]*domain.KeyRecord, error) {
	rows, err := r.q.Query(ctx, `SELECT `+keyColumns+` FROM keys ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.KeyRecord
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

func scanKey(row pgx.Row) (*domain.KeyRecord, error) {
	rec := &domain.KeyRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.Key,
		&rec.DiscordID,
		&rec.HWID,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.Activated,
		&rec.HWIDResets,
		&rec.MaxResets,
		&rec.Notes,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}
