package testutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum is the payload hash the patch writer records for content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
