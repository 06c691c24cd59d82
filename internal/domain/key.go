// Package domain contains the core business entities for keygate.
package domain

import (
	"math"
	"time"
)

const (
	// DefaultMaxResets is the hardware reset allowance for a key when none is given.
	DefaultMaxResets = 3

	// Day is the unit of key validity.
	Day = 24 * time.Hour
)

// KeyRecord represents an issued license key and its binding state.
type KeyRecord struct {
	// ID is the surrogate identifier assigned by the store.
	ID int64 `json:"id"`

	// Key is the human-presentable token, e.g. "ABCD-EFGH-2345-WXYZ".
	Key string `json:"key"`

	// DiscordID identifies the owner. Set once, on activation.
	DiscordID *string `json:"discord_id"`

	// HWID is the bound hardware identifier. Cleared by a reset.
	HWID *string `json:"hwid,omitempty"`

	// CreatedAt is the timestamp when the key was generated.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is CreatedAt plus the validity window.
	ExpiresAt time.Time `json:"expires_at"`

	// Activated flips to true on first activation and never reverts.
	Activated bool `json:"activated"`

	// HWIDResets counts successful resets.
	HWIDResets int `json:"hwid_resets"`

	// MaxResets is the reset allowance for owner-initiated resets.
	MaxResets int `json:"max_resets"`

	// Notes is an optional annotation supplied at generation.
	Notes *string `json:"notes"`
}

// NewKeyRecord creates an unactivated record expiring validFor after now.
func NewKeyRecord(key string, now time.Time, validFor time.Duration, maxResets int, notes *string) *KeyRecord {
	if maxResets < 0 {
		maxResets = DefaultMaxResets
	}
	return &KeyRecord{
		Key:       key,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(validFor),
		MaxResets: maxResets,
		Notes:     notes,
	}
}

// DaysLeft returns the whole-day ceiling of the time remaining before expiry.
// Zero or negative means the key has expired.
func (k *KeyRecord) DaysLeft(now time.Time) int {
	return DaysUntil(k.ExpiresAt, now)
}

// IsExpired reports whether the key has no days left.
func (k *KeyRecord) IsExpired(now time.Time) bool {
	return k.DaysLeft(now) <= 0
}

// ResetAvailable reports whether the owner may still reset the HWID.
func (k *KeyRecord) ResetAvailable() bool {
	return k.HWIDResets < k.MaxResets
}

// IsOwnedBy reports whether discordID is the bound owner.
func (k *KeyRecord) IsOwnedBy(discordID string) bool {
	return k.DiscordID != nil && *k.DiscordID == discordID
}

// State returns the mutable part of the record.
func (k *KeyRecord) State() KeyState {
	return KeyState{
		Activated:  k.Activated,
		DiscordID:  copyString(k.DiscordID),
		HWID:       copyString(k.HWID),
		HWIDResets: k.HWIDResets,
	}
}

// Apply overwrites the mutable part of the record.
func (k *KeyRecord) Apply(s KeyState) {
	k.Activated = s.Activated
	k.DiscordID = copyString(s.DiscordID)
	k.HWID = copyString(s.HWID)
	k.HWIDResets = s.HWIDResets
}

// KeyState is the mutable projection of a KeyRecord. Conditional updates compare
// the stored state against an expected KeyState before writing a new one.
type KeyState struct {
	Activated  bool
	DiscordID  *string
	HWID       *string
	HWIDResets int
}

// Equal reports whether two states are identical, treating nil strings as distinct
// from empty ones.
func (s KeyState) Equal(o KeyState) bool {
	return s.Activated == o.Activated &&
		s.HWIDResets == o.HWIDResets &&
		equalStringPtr(s.DiscordID, o.DiscordID) &&
		equalStringPtr(s.HWID, o.HWID)
}

// DaysUntil returns ceil((t - now) / 24h).
func DaysUntil(t, now time.Time) int {
	return int(math.Ceil(float64(t.Sub(now)) / float64(Day)))
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
