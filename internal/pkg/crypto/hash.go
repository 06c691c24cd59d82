package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the SHA-256 of s. Fixed-size digests can be compared in
// constant time regardless of the input lengths.
func Digest(s string) [sha256.Size]byte {
	return sha256.Sum256([]byte(s))
}

// ComputeSHA256 computes the hex-encoded SHA-256 hash of a byte slice.
func ComputeSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
