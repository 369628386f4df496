package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashPlain matches the hash-only-at-rest discipline pkg/auth.Service uses
// for invitation tokens: the plaintext is generated here, handed to the
// invitee once in the response body, and only its digest is ever persisted.
func hashPlain(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
