// Package checksum hashes source bytes for change detection and cache keys.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumStrings hashes the parts in order, separated by a NUL byte so that
// ("ab", "c") and ("a", "bc") differ.
func SumStrings(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
