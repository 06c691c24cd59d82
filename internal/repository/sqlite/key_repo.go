package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/repository"
)

const keyColumns = `id, key, discord_id, hwid, created_at, expires_at, activated, hwid_resets, max_resets, notes`

// keyRepository implements repository.KeyRepository for SQLite.
type keyRepository struct {
	db *DB
}

// NewKeyRepository creates a new SQLite key repository.
func NewKeyRepository(db *DB) repository.KeyRepository {
	return &keyRepository{db: db}
}

// Create inserts a new key.
func (r *keyRepository) Create(ctx context.Context, key *domain.KeyRecord) error {
	query := `
		INSERT INTO keys (key, discord_id, hwid, created_at, expires_at, activated, hwid_resets, max_resets, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		key.Key,
		nullString(key.DiscordID),
		nullString(key.HWID),
		formatTime(key.CreatedAt),
		formatTime(key.ExpiresAt),
		boolToInt(key.Activated),
		key.HWIDResets,
		key.MaxResets,
		nullString(key.Notes),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", repository.ErrDuplicateKey, key.Key)
		}
		return fmt.Errorf("failed to create key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	key.ID = id

	return nil
}

// GetByKey retrieves a key by its token.
func (r *keyRepository) GetByKey(ctx context.Context, key string) (*domain.KeyRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM keys WHERE key = ?`, key)

	rec, err := scanKey(row)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return rec, nil
}

// UpdateConditional writes next only if the stored mutable fields equal expected.
// IS compares NULLs as equal, so a nil owner or hwid matches a NULL column.
func (r *keyRepository) UpdateConditional(ctx context.Context, key string, expected, next domain.KeyState) error {
	query := `
		UPDATE keys
		SET activated = ?, discord_id = ?, hwid = ?, hwid_resets = ?
		WHERE key = ?
		  AND activated = ?
		  AND discord_id IS ?
		  AND hwid IS ?
		  AND hwid_resets = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(next.Activated),
		nullString(next.DiscordID),
		nullString(next.HWID),
		next.HWIDResets,
		key,
		boolToInt(expected.Activated),
		nullString(expected.DiscordID),
		nullString(expected.HWID),
		expected.HWIDResets,
	)
	if err != nil {
		return fmt.Errorf("failed to update key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM keys WHERE key = ?`, key).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check key: %w", err)
	}
	if exists == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// DeleteByKey removes a key.
func (r *keyRepository) DeleteByKey(ctx context.Context, key string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM keys WHERE key = ?`, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

// List returns every key, oldest first.
func (r *keyRepository) List(ctx context.Context) ([]*domain.KeyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+keyColumns+` FROM keys ORDER BY id ASC`)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*domain.KeyRecord, error) {
	rec := &domain.KeyRecord{}
	var discordID, hwid, notes sql.NullString
	var createdAt, expiresAt string
	var activated int

	err := row.Scan(
		&rec.ID,
		&rec.Key,
		&discordID,
		&hwid,
		&createdAt,
		&expiresAt,
		&activated,
		&rec.HWIDResets,
		&rec.MaxResets,
		&notes,
	)
	if err != nil {
		return nil, err
	}

	rec.DiscordID = scanNullString(discordID)
	rec.HWID = scanNullString(hwid)
	rec.Notes = scanNullString(notes)
	rec.Activated = activated != 0

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("invalid expires_at %q: %w", expiresAt, err)
	}
	return rec, nil
}
