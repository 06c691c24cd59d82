package lifecycle

import (
	"cmp"
	"slices"
	"time"

	"github.com/prn-tf/keygate/internal/domain"
)

// RecentEventsLimit is the number of audit events included in Stats.
const RecentEventsLimit = 10

// KeyInfo is the read-only projection returned by Info.
type KeyInfo struct {
	Key        string
	Activated  bool
	DiscordID  *string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	DaysLeft   int
	HWIDResets int
	MaxResets  int
	CanReset   bool
	Notes      *string
}

// Info projects rec. DaysLeft is clamped at zero.
func (e *Engine) Info(rec *domain.KeyRecord) (KeyInfo, error) {
	if rec == nil {
		return KeyInfo{}, domain.ErrKeyNotFound
	}

	daysLeft := rec.DaysLeft(e.Now())
	if daysLeft < 0 {
		daysLeft = 0
	}

	return KeyInfo{
		Key:        rec.Key,
		Activated:  rec.Activated,
		DiscordID:  rec.DiscordID,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		DaysLeft:   daysLeft,
		HWIDResets: rec.HWIDResets,
		MaxResets:  rec.MaxResets,
		CanReset:   rec.ResetAvailable(),
		Notes:      rec.Notes,
	}, nil
}

// Totals aggregates counts over all keys.
type Totals struct {
	TotalKeys       int
	ActivatedKeys   int
	InactiveKeys    int
	ExpiredKeys     int
	TotalHWIDResets int
}

// KeySummary is the per-key line of a stats report.
type KeySummary struct {
	Key        string
	Activated  bool
	DiscordID  *string
	ExpiresAt  time.Time
	HWIDResets int
}

// Stats is the administrative report.
type Stats struct {
	Totals       Totals
	RecentEvents []*domain.AuditEvent
	Keys         []KeySummary
}

// Stats aggregates records and attaches the most recent events, newest first.
// At most RecentEventsLimit events are kept.
func (e *Engine) Stats(records []*domain.KeyRecord, recent []*domain.AuditEvent) Stats {
	now := e.Now()
	stats := Stats{
		Keys: make([]KeySummary, 0, len(records)),
	}

	for _, rec := range records {
		stats.Totals.TotalKeys++
		if rec.Activated {
			stats.Totals.ActivatedKeys++
		}
		if rec.IsExpired(now) {
			stats.Totals.ExpiredKeys++
		}
		stats.Totals.TotalHWIDResets += rec.HWIDResets

		stats.Keys = append(stats.Keys, KeySummary{
			Key:        rec.Key,
			Activated:  rec.Activated,
			DiscordID:  rec.DiscordID,
			ExpiresAt:  rec.ExpiresAt,
			HWIDResets: rec.HWIDResets,
		})
	}
	stats.Totals.InactiveKeys = stats.Totals.TotalKeys - stats.Totals.ActivatedKeys

	events := append(make([]*domain.AuditEvent, 0, len(recent)), recent...)
	sortNewestFirst(events)
	if len(events) > RecentEventsLimit {
		events = events[:RecentEventsLimit]
	}
	stats.RecentEvents = events

	return stats
}

// DeletedEvent records an administrative deletion.
func (e *Engine) DeletedEvent(key, reason, origin string) *domain.AuditEvent {
	actor := domain.AdminActor
	event := domain.NewAuditEvent(domain.AuditKeyDeleted, key, &actor, nil, origin, e.Now())
	event.Details = domain.StringPtr(reason)
	return event
}

// sortNewestFirst orders events by timestamp descending, then by ID descending.
func sortNewestFirst(events []*domain.AuditEvent) {
	slices.SortStableFunc(events, func(a, b *domain.AuditEvent) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
