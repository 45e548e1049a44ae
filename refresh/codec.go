package refresh

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrMalformedToken is returned for tokens that cannot be opened or parsed.
var ErrMalformedToken = errors.New("malformed refresh token")

// ErrKeyUnavailable is returned when the sealing key cannot be obtained.
var ErrKeyUnavailable = errors.New("refresh token key unavailable")

// KeyFunc returns the 32-byte sealing key.
type KeyFunc func(ctx context.Context) ([]byte, error)

// Info is the content of an opened refresh token. ParentRefreshTokenHash1 is
// empty for the root token of a chain.
type Info struct {
	SessionHandle           string `json:"sessionHandle"`
	UserID                  string `json:"userId"`
	ParentRefreshTokenHash1 string `json:"prt,omitempty"`
}

// Codec seals and opens refresh tokens.
type Codec struct {
	key      KeyFunc
	validity time.Duration
	now      func() time.Time
}

// NewCodec returns a [Codec]. validity is the lifetime reported by Issue; the
// authoritative expiry is the one stored with the session.
func NewCodec(key KeyFunc, validity time.Duration, now func() time.Time) (*Codec, error) {
	if key == nil {
		return nil, errors.New("refresh codec requires a key func")
	}
	if validity <= 0 {
		return nil, errors.New("invalid refresh validity")
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{key: key, validity: validity, now: now}, nil
}

// Issue seals a new refresh token for the session.
func (c *Codec) Issue(ctx context.Context, sessionHandle, userID, parentRefreshTokenHash1 string) (string, time.Time, error) {
	aead, err := c.aead(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	plain, err := json.Marshal(Info{
		SessionHandle:           sessionHandle,
		UserID:                  userID,
		ParentRefreshTokenHash1: parentRefreshTokenHash1,
	})
	if err != nil {
		return "", time.Time{}, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, err
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)

	return base64.RawURLEncoding.EncodeToString(sealed), c.now().Add(c.validity), nil
}

// Decode opens a refresh token. A key failure is reported as
// ErrKeyUnavailable, anything else as ErrMalformedToken.
func (c *Codec) Decode(ctx context.Context, token string) (*Info, error) {
	aead, err := c.aead(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrMalformedToken)
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var info Info
	if err := json.Unmarshal(plain, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if info.SessionHandle == "" || info.UserID == "" {
		return nil, fmt.Errorf("%w: missing session fields", ErrMalformedToken)
	}
	return &info, nil
}

func (c *Codec) aead(ctx context.Context) (cipher.AEAD, error) {
	key, err := c.key(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	return aead, nil
}
