// Package dedup fingerprints clipboard payloads and keeps a short window of
// recently seen fingerprints to suppress repeated captures before they reach
// the store. The store's unique content hash stays the source of truth.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the fingerprint length in bytes.
const Size = sha256.Size

// Fingerprint is the SHA-256 digest of a payload.
type Fingerprint [Size]byte

// Sum computes the fingerprint of payload. Any byte sequence, including an
// empty one, is valid input.
func Sum(payload []byte) Fingerprint {
	return sha256.Sum256(payload)
}

// String returns the lowercase hex form stored in the content_hash column.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}
