// Package crypto provides cryptographic utilities for keygate.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const (
	// licenseKeyChars is the alphabet for license key tokens (uppercase alphanumeric).
	licenseKeyChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// LicenseKeyGroups is the number of dash-separated groups in a key.
	LicenseKeyGroups = 4

	// LicenseKeyGroupSize is the number of characters per group.
	LicenseKeyGroupSize = 4

	// LicenseKeyLength is the formatted length, dashes included.
	LicenseKeyLength = LicenseKeyGroups*LicenseKeyGroupSize + LicenseKeyGroups - 1

	// maxUnbiasedByte is the largest multiple of len(licenseKeyChars) that fits in a byte.
	// Bytes at or above it are rejected so every character is equally likely.
	maxUnbiasedByte = 256 - 256%len(licenseKeyChars)
)

// KeyGenerator produces license key tokens from a random source.
type KeyGenerator struct {
	rand io.Reader
}

// NewKeyGenerator creates a generator reading from r. A nil r uses crypto/rand.
func NewKeyGenerator(r io.Reader) *KeyGenerator {
	if r == nil {
		r = rand.Reader
	}
	return &KeyGenerator{rand: r}
}

// Generate returns a token of the form "XXXX-XXXX-XXXX-XXXX".
func (g *KeyGenerator) Generate() (string, error) {
	chars, err := g.randomString(LicenseKeyGroups*LicenseKeyGroupSize, licenseKeyChars)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(LicenseKeyLength)
	for i := 0; i < LicenseKeyGroups; i++ {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(chars[i*LicenseKeyGroupSize : (i+1)*LicenseKeyGroupSize])
	}
	return b.String(), nil
}

// ValidLicenseKey reports whether s has the license key shape.
func ValidLicenseKey(s string) bool {
	if len(s) != LicenseKeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (i+1)%(LicenseKeyGroupSize+1) == 0 {
			if c != '-' {
				return false
			}
			continue
		}
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

// randomString draws length characters uniformly from charset.
func (g *KeyGenerator) randomString(length int, charset string) (string, error) {
	result := make([]byte, 0, length)
	buf := make([]byte, length)

	for len(result) < length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiasedByte {
				continue
			}
			result = append(result, charset[int(b)%len(charset)])
			if len(result) == length {
				break
			}
		}
	}

	return string(result), nil
}
