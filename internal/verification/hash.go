// Package verification answers whether a (data principal, purpose,
// data elements) tuple is currently consented, and keeps the audit trail
// of every answer it gave.
package verification

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashIdentifier returns the 32-byte SHAKE-256 digest of an identifier,
// hex-encoded. Email and mobile values are hashed with this before any
// comparison or storage; the raw values never persist. The input is
// trimmed first so differently padded submissions hash identically.
func HashIdentifier(raw string) string {
	canonical := strings.TrimSpace(raw)
	digest := make([]byte, 32)
	sha3.ShakeSum256(digest, []byte(canonical))
	return hex.EncodeToString(digest)
}
