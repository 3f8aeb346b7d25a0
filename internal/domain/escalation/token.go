package escalation

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// MintedToken is a freshly generated escalation token. Plain leaves the
// process exactly once, inside the magic link; only the hash is stored.
type MintedToken struct {
	Plain     string
	Hash      string
	ExpiresAt time.Time
}

// mintToken generates a 128-bit random opaque token with the given expiry.
func mintToken(expiresAt time.Time) (MintedToken, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return MintedToken{}, fmt.Errorf("generate escalation token: %w", err)
	}
	plain := hex.EncodeToString(raw)
	return MintedToken{
		Plain:     plain,
		Hash:      hashToken(plain),
		ExpiresAt: expiresAt,
	}, nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// tokenMatches compares a presented token against the stored hash in
// constant time.
func tokenMatches(plain, storedHash string) bool {
	computed := hashToken(plain)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
