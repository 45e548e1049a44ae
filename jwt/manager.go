package jwt

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with a static Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with an HMAC key obtained from a KeyFunc, which may rotate.
	MethodHS256 SigningMethod = "hs256"
)

// ErrMissingClaims is returned when a verified token lacks a session claim.
var ErrMissingClaims = errors.New("access token missing session claims")

// ErrKeyUnavailable is returned when the signing key cannot be obtained. It
// says nothing about the token itself.
var ErrKeyUnavailable = errors.New("access token signing key unavailable")

// KeyFunc returns the current HMAC signing key. It is called on every sign
// and verify, so implementations are expected to cache.
type KeyFunc func(ctx context.Context) ([]byte, error)

// Config configures a [Manager].
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	SigningKey    KeyFunc
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	Now           func() time.Time
}

// Manager mints and verifies access tokens.
type Manager struct {
	config Config
	method jwt.SigningMethod
	edPriv ed25519.PrivateKey
	edPub  ed25519.PublicKey
}

// AccessClaims is the decoded form of an access token. A non-empty
// ParentRefreshTokenHash1 marks a token whose refresh token has not yet been
// promoted in the store.
type AccessClaims struct {
	SessionHandle           string `json:"sessionHandle"`
	UserID                  string `json:"userId"`
	RefreshTokenHash1       string `json:"refreshTokenHash1"`
	ParentRefreshTokenHash1 string `json:"parentRefreshTokenHash1,omitempty"`
	AntiCSRFToken           string `json:"antiCsrfToken,omitempty"`
	UserData                []byte `json:"userData,omitempty"`
	jwt.RegisteredClaims
}

// AccessInput carries the session fields embedded into a new access token.
type AccessInput struct {
	SessionHandle           string
	UserID                  string
	RefreshTokenHash1       string
	ParentRefreshTokenHash1 string
	AntiCSRFToken           string
	UserData                []byte
}

// NewManager validates cfg and returns a ready [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if cfg.SigningKey == nil {
			return nil, errors.New("hs256 requires a signing key func")
		}
		m.method = jwt.SigningMethodHS256
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.edPriv, m.edPub = priv, pub
		m.method = jwt.SigningMethodEdDSA
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// CreateAccess signs a new access token and returns it with its expiry.
func (j *Manager) CreateAccess(ctx context.Context, in AccessInput) (string, time.Time, error) {
	now := j.config.Now()
	expiresAt := now.Add(j.config.AccessTTL)

	claims := AccessClaims{
		SessionHandle:           in.SessionHandle,
		UserID:                  in.UserID,
		RefreshTokenHash1:       in.RefreshTokenHash1,
		ParentRefreshTokenHash1: in.ParentRefreshTokenHash1,
		AntiCSRFToken:           in.AntiCSRFToken,
		UserData:                in.UserData,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.signKey(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies signature, expiry and issuer, and requires the session claims.
func (j *Manager) ParseAccess(ctx context.Context, tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	// The key is fetched up front so a key store failure is not reported
	// as an invalid token.
	key, err := j.verifyKey(ctx)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.SessionHandle == "" || claims.UserID == "" || claims.RefreshTokenHash1 == "" {
		return nil, ErrMissingClaims
	}

	return claims, nil
}

func (j *Manager) signKey(ctx context.Context) (interface{}, error) {
	if j.method == jwt.SigningMethodHS256 {
		return j.hmacKey(ctx)
	}
	return j.edPriv, nil
}

func (j *Manager) verifyKey(ctx context.Context) (interface{}, error) {
	if j.method == jwt.SigningMethodHS256 {
		return j.hmacKey(ctx)
	}
	return j.edPub, nil
}

func (j *Manager) hmacKey(ctx context.Context) ([]byte, error) {
	key, err := j.config.SigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty signing key", ErrKeyUnavailable)
	}
	return key, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
