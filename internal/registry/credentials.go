package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// secretBytes is the length of a generated gateway secret in raw bytes.
// 32 bytes gives 256 bits of entropy, hex-encoded to 64 characters.
const secretBytes = 32

// GenerateSecret produces a new random gateway bearer secret.
//
// The secret is returned exactly once, at provisioning time. Only its
// SHA-256 digest is stored.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating gateway secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret returns the SHA-256 hex digest of a gateway secret. This is
// the value persisted in the gateways table.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// secretMatches compares a presented secret against a stored hash in
// constant time.
func secretMatches(secret, storedHash string) bool {
	presented := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(storedHash)) == 1
}
