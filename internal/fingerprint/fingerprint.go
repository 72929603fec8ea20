// Package fingerprint computes content fingerprints used as embedding
// cache keys. Identical text always yields the identical fingerprint, so a
// fingerprint collision is treated as content identity.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Hash returns the SHA-256 fingerprint of content as lowercase hex.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
