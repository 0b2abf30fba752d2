package cardfile

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest computes the content digest of raw package bytes: a 64-character
// hex SHA-256. The digest depends only on the bytes, never on filename or
// transport, so client and server derivations are directly comparable.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
