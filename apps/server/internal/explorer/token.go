package explorer

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// AnonymousKey is the token key used for unauthenticated access.
const AnonymousKey = "anonymous"

// TokenKey returns a stable, non-reversible key for token. Budgets and cached
// listings are scoped by this key so raw tokens never reach logs or redis.
func TokenKey(token string) string {
	if token == "" {
		return AnonymousKey
	}
	sum := sha3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
