package domain

import "time"

// AuditAction names a lifecycle action recorded in the audit log.
type AuditAction string

const (
	AuditKeysGenerated AuditAction = "keys_generated"
	AuditCheckFailed   AuditAction = "check_failed"
	AuditKeyExpired    AuditAction = "key_expired"
	AuditCheckSuccess  AuditAction = "check_success"
	AuditHWIDMismatch  AuditAction = "hwid_mismatch"
	AuditKeyActivated  AuditAction = "key_activated"
	AuditHWIDReset     AuditAction = "hwid_reset"
	AuditKeyDeleted    AuditAction = "key_deleted"
)

// AdminActor is recorded as the actor of administrative actions.
const AdminActor = "admin"

// AuditEvent is an append-only record of a lifecycle action.
// Events are never updated or deleted once written.
type AuditEvent struct {
	// ID is assigned by the store on append.
	ID int64 `json:"id"`

	Action AuditAction `json:"action"`

	// Key is the subject key token. Batch events carry a comma-joined list.
	Key string `json:"key"`

	// DiscordID is the actor or owner identity, when known.
	DiscordID *string `json:"discord_id"`

	HWID *string `json:"hwid"`

	// IP is the origin address of the request.
	IP *string `json:"ip"`

	// Details holds a free-text reason (resets, deletions).
	Details *string `json:"details,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewAuditEvent creates an event stamped with now.
func NewAuditEvent(action AuditAction, key string, discordID, hwid *string, ip string, now time.Time) *AuditEvent {
	return &AuditEvent{
		Action:    action,
		Key:       key,
		DiscordID: copyString(discordID),
		HWID:      copyString(hwid),
		IP:        StringPtr(ip),
		Timestamp: now.UTC(),
	}
}
