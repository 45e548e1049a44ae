package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStoreUnavailable is returned when the backing database cannot serve a request.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrSessionNotFound is returned when no record exists for a session handle.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when a record is created under a handle that is already taken.
var ErrSessionExists = errors.New("session already exists")

// ErrKeyNotFound is returned when a signing key has never been stored.
var ErrKeyNotFound = errors.New("signing key not found")

// ErrRecordCorrupt is returned when a stored blob cannot be decoded.
var ErrRecordCorrupt = errors.New("session record corrupt")

// Store is the session persistence contract used by the rotation flows.
//
// Update methods report the number of rows they changed. A zero count means
// the record is gone or its sign no longer matches; it is not an error.
type Store interface {
	CreateNewSession(ctx context.Context, rec Record) error
	GetSessionInfo(ctx context.Context, handle string) (*Record, error)
	UpdateSessionInfo(ctx context.Context, handle, refreshTokenHash2 string, sessionData []byte, expiresAt int64, expectedSign string) (int64, error)
	GetSessionData(ctx context.Context, handle string) ([]byte, bool, error)
	UpdateSessionData(ctx context.Context, handle string, sessionData []byte) (int64, error)
	DeleteSession(ctx context.Context, handle string) (int64, error)
	GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error)
	DeleteAllExpiredSessions(ctx context.Context, nowMillis int64) (int64, error)
	IsSessionBlacklisted(ctx context.Context, handle string) (bool, error)
}

// KeyStore persists named signing keys with the same sign discipline as [Store].
type KeyStore interface {
	GetKeyValue(ctx context.Context, name string) (*KeyValue, error)
	InsertKeyIfAbsent(ctx context.Context, kv KeyValue) (bool, error)
	UpdateKeyWithVersionMatch(ctx context.Context, name, value string, createdAt int64, expectedSign string) (int64, error)
}

// Backend is a database that serves both contracts.
type Backend interface {
	Store
	KeyStore
	Ping(ctx context.Context) (time.Duration, error)
}

// NewSign returns a fresh version token for a record or key.
func NewSign() string {
	return uuid.NewString()
}

func emptyToNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nilToEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
