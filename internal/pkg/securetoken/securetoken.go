// Package securetoken issues opaque single-use tokens and derives the fingerprints
// that are persisted in their place.
package securetoken

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	byteLength = 32
	// Length is the size of an issued token and of a fingerprint, in hex characters.
	Length = byteLength * 2
)

func Issue() (string, error) {
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func Fingerprint(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// Equal compares in time independent of the position of the first mismatch.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func WellFormed(plain string) bool {
	if len(plain) != Length {
		return false
	}
	for i := 0; i < len(plain); i++ {
		c := plain[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
