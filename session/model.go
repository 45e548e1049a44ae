package session

// Record is the persisted state of one logical login.
//
// ExpiresAt is an absolute epoch-millisecond expiry of the refresh chain.
// SessionData and JWTPayload are opaque to the store; an empty value is stored
// as the empty sentinel and read back as nil.
type Record struct {
	Handle            string
	UserID            string
	RefreshTokenHash2 string
	SessionData       []byte
	ExpiresAt         int64
	JWTPayload        []byte
	LastUpdatedSign   string
}

// Expired reports whether the chain expiry lies strictly before nowMillis.
func (r *Record) Expired(nowMillis int64) bool {
	return r.ExpiresAt < nowMillis
}

// KeyValue is a named signing key. CreatedAt is epoch milliseconds.
type KeyValue struct {
	Name            string
	Value           string
	CreatedAt       int64
	LastUpdatedSign string
}
