package lifecycle

import (
	"github.com/prn-tf/keygate/internal/domain"
)

// ResetInput clears the hardware binding of a key. Admin is the already-checked
// result of authorizing the caller's admin credential.
type ResetInput struct {
	Key       string
	Admin     bool
	DiscordID string
	Reason    string
	Origin    string
}

// ResetResult reports reset usage after a successful reset.
type ResetResult struct {
	Key             string
	UsedResets      int
	MaxResets       int
	RemainingResets int
	ByAdmin         bool
}

// Reset decides whether the HWID of rec may be cleared. Admin resets ignore the
// ceiling; owner resets are bounded by MaxResets.
func (e *Engine) Reset(rec *domain.KeyRecord, in ResetInput) (Decision[ResetResult], error) {
	if in.Key == "" {
		return Decision[ResetResult]{}, domain.NewValidationError("key is required", "key")
	}
	if rec == nil {
		return Decision[ResetResult]{}, domain.ErrKeyNotFound
	}

	switch {
	case in.Admin:
	case in.DiscordID != "":
		if !rec.IsOwnedBy(in.DiscordID) {
			return Decision[ResetResult]{}, domain.ErrNotOwner
		}
		if !rec.ResetAvailable() {
			return Decision[ResetResult]{}, &domain.ResetLimitError{Used: rec.HWIDResets, Max: rec.MaxResets}
		}
	default:
		return Decision[ResetResult]{}, domain.ErrMissingCredential
	}

	expected := rec.State()
	next := expected
	next.HWID = nil
	next.HWIDResets = expected.HWIDResets + 1

	remaining := rec.MaxResets - next.HWIDResets
	if remaining < 0 {
		remaining = 0
	}

	event := domain.NewAuditEvent(domain.AuditHWIDReset, rec.Key, rec.DiscordID, nil, in.Origin, e.Now())
	event.Details = domain.StringPtr(in.Reason)

	return Decision[ResetResult]{
		Result: ResetResult{
			Key:             rec.Key,
			UsedResets:      next.HWIDResets,
			MaxResets:       rec.MaxResets,
			RemainingResets: remaining,
			ByAdmin:         in.Admin,
		},
		Mutation: &Mutation{Key: rec.Key, Expected: expected, Next: next},
		Event:    event,
	}, nil
}
