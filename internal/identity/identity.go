// Package identity anonymizes login names before anything touches storage.
// Only the one-way hash is ever persisted; the display identifier carries no
// information about the principal.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	letters = "abcdefghijklmnopqrstuvwxyz"
	digits  = "0123456789"
)

// Hash returns the hex-encoded SHA-256 of a login name (UTLN).
func Hash(utln string) string {
	sum := sha256.Sum256([]byte(utln))
	return hex.EncodeToString(sum[:])
}

// NewAnonymousID generates a display identifier of the form "aaaaaa00":
// six lowercase letters followed by two digits. Uniqueness is enforced by
// the store, which retries on collision.
func NewAnonymousID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: read random: %w", err)
	}
	out := make([]byte, 8)
	for i := 0; i < 6; i++ {
		out[i] = letters[int(buf[i])%len(letters)]
	}
	for i := 6; i < 8; i++ {
		out[i] = digits[int(buf[i])%len(digits)]
	}
	return string(out), nil
}
