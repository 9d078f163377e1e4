// Package keys implements generation and hashing of raw API keys. Raw keys
// exist only at creation time; everything downstream works with the SHA-256
// digest.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// PrefixLen is the number of leading characters of a raw key kept for
// display and identification. Short enough to be useless for guessing.
const PrefixLen = 8

// Generate returns a new raw API key: "gk_" plus 32 random bytes hex-encoded.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return "gk_" + hex.EncodeToString(buf), nil
}

// Hash returns the hex-encoded SHA-256 digest of a raw key. This is the only
// form of the key ever persisted or looked up.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Prefix returns the display prefix of a raw key.
func Prefix(raw string) string {
	if len(raw) < PrefixLen {
		return raw
	}
	return raw[:PrefixLen]
}

// ConstantTimeEquals compares two strings in time independent of where they
// first differ.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
