package bitcoin

import (
	"crypto/sha256"
)

// Sha256 returns the SHA256 (Secure Hash Algorithm) of the input.
//
// This is a wrapper for easy access to a chosen implementation.
//
// See https://en.wikipedia.org/wiki/SHA-2
func Sha256(b []byte) []byte {
	result := sha256.Sum256(b)
	return result[:]
}
