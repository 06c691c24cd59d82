package lifecycle

import (
	"time"

	"github.com/prn-tf/keygate/internal/domain"
)

// CheckStatus is the outcome of validating a key against a hardware id.
type CheckStatus string

const (
	CheckNotFound        CheckStatus = "not_found"
	CheckExpired         CheckStatus = "expired"
	CheckNeedsActivation CheckStatus = "needs_activation"
	CheckGranted         CheckStatus = "granted"
	CheckHWIDMismatch    CheckStatus = "hwid_mismatch"
)

// CheckInput is a validation request.
type CheckInput struct {
	Key    string
	HWID   string
	Origin string
}

// CheckResult reports a validation outcome. Only Granted is a valid key.
type CheckResult struct {
	Status         CheckStatus
	Key            string
	ExpiresAt      time.Time
	DaysLeft       int
	ResetAvailable bool
}

// Valid reports whether access is granted.
func (r CheckResult) Valid() bool {
	return r.Status == CheckGranted
}

// Check decides whether rec grants access to in.HWID. rec is nil when the key
// does not exist. Check never mutates.
func (e *Engine) Check(rec *domain.KeyRecord, in CheckInput) Decision[CheckResult] {
	now := e.Now()
	hwid := domain.StringPtr(in.HWID)

	if rec == nil {
		return Decision[CheckResult]{
			Result: CheckResult{Status: CheckNotFound, Key: in.Key},
			Event:  domain.NewAuditEvent(domain.AuditCheckFailed, in.Key, nil, hwid, in.Origin, now),
		}
	}

	result := CheckResult{
		Key:            rec.Key,
		ExpiresAt:      rec.ExpiresAt,
		DaysLeft:       rec.DaysLeft(now),
		ResetAvailable: rec.ResetAvailable(),
	}

	switch {
	case result.DaysLeft <= 0:
		result.Status = CheckExpired
		return Decision[CheckResult]{
			Result: result,
			Event:  domain.NewAuditEvent(domain.AuditKeyExpired, rec.Key, rec.DiscordID, hwid, in.Origin, now),
		}

	case !rec.Activated, rec.HWID == nil:
		// Unactivated, or reset and waiting for the owner to bind a new device.
		result.Status = CheckNeedsActivation
		return Decision[CheckResult]{Result: result}

	case *rec.HWID == in.HWID:
		result.Status = CheckGranted
		return Decision[CheckResult]{
			Result: result,
			Event:  domain.NewAuditEvent(domain.AuditCheckSuccess, rec.Key, rec.DiscordID, hwid, in.Origin, now),
		}

	default:
		result.Status = CheckHWIDMismatch
		return Decision[CheckResult]{
			Result: result,
			Event:  domain.NewAuditEvent(domain.AuditHWIDMismatch, rec.Key, rec.DiscordID, hwid, in.Origin, now),
		}
	}
}
