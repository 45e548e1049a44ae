package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSessionHandle returns a lexically sortable, globally unique handle.
func NewSessionHandle() string {
	return ulid.Make().String()
}

// NewUUID returns a random v4 UUID string, used for anti-CSRF and
// id-refresh tokens.
func NewUUID() string {
	return uuid.NewString()
}

// Hash returns hex(sha256(s)). Refresh tokens are persisted as Hash(Hash(rt)).
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NewKeyMaterial returns n random bytes.
func NewKeyMaterial(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
