package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/keygate/internal/cache/memory"
	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/pkg/crypto"
)

// VerifiedTTL is how long a credential that passed bcrypt verification is
// accepted without repeating it. Failed attempts are never cached.
const VerifiedTTL = 5 * time.Minute

// AdminAuthorizer decides whether a presented credential grants admin rights.
type AdminAuthorizer interface {
	AuthorizeAdmin(credential string) bool
}

// TokenAuthorizer checks credentials against a configured token or bcrypt hash.
// With nothing configured every credential is rejected.
type TokenAuthorizer struct {
	digest   [sha256.Size]byte
	hash     []byte
	plain    bool
	verified *memory.Cache
}

// NewTokenAuthorizer creates a TokenAuthorizer from the admin section.
// TokenHash takes precedence over Token.
func NewTokenAuthorizer(cfg config.AdminConfig) (*TokenAuthorizer, error) {
	a := &TokenAuthorizer{}

	switch {
	case cfg.TokenHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.TokenHash)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTokenHash, err)
		}
		a.hash = []byte(cfg.TokenHash)
		a.verified = memory.NewCache()
	case cfg.Token != "":
		a.digest = crypto.Digest(cfg.Token)
		a.plain = true
	}

	return a, nil
}

// Configured reports whether any credential can ever be accepted.
func (a *TokenAuthorizer) Configured() bool {
	return a.plain || a.hash != nil
}

// AuthorizeAdmin reports whether credential matches.
// Comparing fixed-size digests keeps the time independent of where
// the inputs differ and of the configured token's length.
func (a *TokenAuthorizer) AuthorizeAdmin(credential string) bool {
	if credential == "" {
		return false
	}

	if a.hash != nil {
		return a.verifyHash(credential)
	}
	if !a.plain {
		return false
	}

	presented := crypto.Digest(credential)
	return subtle.ConstantTimeCompare(presented[:], a.digest[:]) == 1
}

func (a *TokenAuthorizer) verifyHash(credential string) bool {
	cacheKey := crypto.ComputeSHA256([]byte(credential))
	if a.verified.Exists(cacheKey) {
		return true
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(credential)) != nil {
		return false
	}
	a.verified.Set(cacheKey, nil, VerifiedTTL)
	return true
}

// Close stops the verification cache.
func (a *TokenAuthorizer) Close() {
	if a.verified != nil {
		a.verified.Stop()
	}
}

// HashToken returns a bcrypt hash suitable for admin.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin token: %w", err)
	}
	return string(hash), nil
}

// Trusted authorizes every caller. Used by operator tooling that already has
// direct access to the key store.
type Trusted struct{}

// AuthorizeAdmin always returns true.
func (Trusted) AuthorizeAdmin(string) bool { return true }

var (
	_ AdminAuthorizer = (*TokenAuthorizer)(nil)
	_ AdminAuthorizer = Trusted{}
)
