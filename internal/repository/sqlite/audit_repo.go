package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/repository"
)

// auditRepository implements repository.AuditRepository for SQLite.
type auditRepository struct {
	db *DB
}

// NewAuditRepository creates a new SQLite audit repository.
func NewAuditRepository(db *DB) repository.AuditRepository {
	return &auditRepository{db: db}
}

// Append stores an event.
func (r *auditRepository) Append(ctx context.Context, event *domain.AuditEvent) error {
	query := `
		INSERT INTO audit_log (action, key, discord_id, hwid, ip_address, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		string(event.Action),
		event.Key,
		nullString(event.DiscordID),
		nullString(event.HWID),
		nullString(event.IP),
		nullString(event.Details),
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	event.ID = id

	return nil
}

// ListRecent returns up to limit events, newest first.
func (r *auditRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	query := `
		SELECT id, action, key, discord_id, hwid, ip_address, details, timestamp
		FROM audit_log
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		event := &domain.AuditEvent{}
		var action, timestamp string
		var key, discordID, hwid, ip, details sql.NullString

		if err := rows.Scan(&event.ID, &action, &key, &discordID, &hwid, &ip, &details, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		event.Action = domain.AuditAction(action)
		event.Key = key.String
		event.DiscordID = scanNullString(discordID)
		event.HWID = scanNullString(hwid)
		event.IP = scanNullString(ip)
		event.Details = scanNullString(details)
		if event.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, fmt.Errorf("invalid audit timestamp %q: %w", timestamp, err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}
