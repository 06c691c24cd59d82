// Package auth verifies the shared administrative credential.
package auth

import "errors"

var (
	// ErrInvalidTokenHash indicates admin.token_hash is not a bcrypt hash.
	ErrInvalidTokenHash = errors.New("admin token hash is not a valid bcrypt hash")

	// ErrEmptyToken indicates an attempt to hash an empty token.
	ErrEmptyToken = errors.New("admin token must not be empty")
)
