package lifecycle

import (
	"time"

	"github.com/prn-tf/keygate/internal/domain"
)

// ActivateInput binds a key to an owner and a device.
type ActivateInput struct {
	Key       string
	HWID      string
	DiscordID string
	Origin    string
}

// ActivateResult is returned on a successful activation.
type ActivateResult struct {
	Key       string
	DiscordID string
	HWID      string
	ExpiresAt time.Time
	// Rebound is true when an activated key was bound to a new device after a reset.
	Rebound bool
}

// Activate decides whether rec may be bound to in.DiscordID and in.HWID.
//
// Policy:
//   - expired keys cannot be activated;
//   - a key owned by someone else is rejected;
//   - the owner may activate again, which re-binds the device after a reset and is
//     a no-op when the same device is presented; presenting a different device
//     while one is still bound is rejected, because that would bypass the reset
//     allowance.
func (e *Engine) Activate(rec *domain.KeyRecord, in ActivateInput) (Decision[ActivateResult], error) {
	if in.Key == "" || in.HWID == "" || in.DiscordID == "" {
		return Decision[ActivateResult]{}, domain.NewValidationError("key, hwid and discord_id are required", "key", "hwid", "discord_id")
	}
	if rec == nil {
		return Decision[ActivateResult]{}, domain.ErrKeyNotFound
	}

	now := e.Now()
	if rec.IsExpired(now) {
		return Decision[ActivateResult]{}, domain.ErrKeyExpired
	}

	result := ActivateResult{
		Key:       rec.Key,
		DiscordID: in.DiscordID,
		HWID:      in.HWID,
		ExpiresAt: rec.ExpiresAt,
	}

	if rec.Activated {
		if !rec.IsOwnedBy(in.DiscordID) {
			return Decision[ActivateResult]{}, domain.ErrAlreadyActivated
		}
		if rec.HWID != nil {
			if *rec.HWID != in.HWID {
				return Decision[ActivateResult]{}, domain.ErrHWIDBound
			}
			// Same owner, same device.
			return Decision[ActivateResult]{Result: result}, nil
		}
		result.Rebound = true
	}

	expected := rec.State()
	next := expected
	next.Activated = true
	next.DiscordID = domain.StringPtr(in.DiscordID)
	next.HWID = domain.StringPtr(in.HWID)

	return Decision[ActivateResult]{
		Result:   result,
		Mutation: &Mutation{Key: rec.Key, Expected: expected, Next: next},
		Event:    domain.NewAuditEvent(domain.AuditKeyActivated, rec.Key, next.DiscordID, next.HWID, in.Origin, now),
	}, nil
}
