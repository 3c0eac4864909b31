package rpcclient

import (
	"crypto/sha256"
	"encoding/hex"
)

// deriveBearerToken derives a bearer-token payload from a configured shared
// secret (spec.md §6, "authorization (including bearer tokens whose payload
// is derived from a configured shared secret)"). The derivation is a plain
// SHA-256 of the secret: callers that need a signed/expiring token should
// wrap Transport rather than rely on this default.
func deriveBearerToken(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
