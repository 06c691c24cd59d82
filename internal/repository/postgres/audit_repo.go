package postgres

import (
	"context"
	"fmt"

	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/repository"
)

// auditRepository implements repository.AuditRepository.
type auditRepository struct {
	q Querier
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(db *DB) repository.AuditRepository {
	return &auditRepository{q: db.Pool}
}

// Append stores an event.
func (r *auditRepository) Append(ctx context.Context, event *domain.AuditEvent) error {
	query := `
		INSERT INTO audit_log (action, key, discord_id, hwid, ip_address, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		string(event.Action),
		event.Key,
		event.DiscordID,
		event.HWID,
		event.IP,
		event.Details,
		event.Timestamp,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (r *auditRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	query := `
		SELECT id, action, COALESCE(key, ''), discord_id, hwid, ip_address, details, timestamp
		FROM audit_log
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		event := &domain.AuditEvent{}
		var action string
		err := rows.Scan(
			&event.ID,
			&action,
			&event.Key,
			&event.DiscordID,
			&event.HWID,
			&event.IP,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Action = domain.AuditAction(action)
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}
