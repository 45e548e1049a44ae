package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL-backed [Backend].
type PostgresStore struct {
	pool          *pgxpool.Pool
	sessionIdent  string
	keyIdent      string
	userIndexName string
	expIndexName  string
}

// NewPostgresStore creates a [PostgresStore] over the given tables. Table
// names are quoted, never interpolated raw.
func NewPostgresStore(pool *pgxpool.Pool, sessionTable, keyTable string) *PostgresStore {
	return &PostgresStore{
		pool:          pool,
		sessionIdent:  pgx.Identifier{sessionTable}.Sanitize(),
		keyIdent:      pgx.Identifier{keyTable}.Sanitize(),
		userIndexName: pgx.Identifier{sessionTable + "_user_id_idx"}.Sanitize(),
		expIndexName:  pgx.Identifier{sessionTable + "_expires_at_idx"}.Sanitize(),
	}
}

// Migrate creates the session and key tables and their indexes if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.sessionIdent + ` (
			session_handle       TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			refresh_token_hash_2 TEXT NOT NULL,
			session_info         BYTEA NOT NULL,
			expires_at           BIGINT NOT NULL,
			jwt_user_payload     BYTEA NOT NULL,
			last_updated_sign    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + s.userIndexName + ` ON ` + s.sessionIdent + ` (user_id)`,
		`CREATE INDEX IF NOT EXISTS ` + s.expIndexName + ` ON ` + s.sessionIdent + ` (expires_at)`,
		`CREATE TABLE IF NOT EXISTS ` + s.keyIdent + ` (
			key_name          TEXT PRIMARY KEY,
			key_value         TEXT NOT NULL,
			created_at_time   BIGINT NOT NULL,
			last_updated_sign TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// CreateNewSession inserts rec. A unique violation on the handle returns
// ErrSessionExists.
func (s *PostgresStore) CreateNewSession(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.sessionIdent+` (
			session_handle, user_id, refresh_token_hash_2,
			session_info, expires_at, jwt_user_payload, last_updated_sign
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.Handle, rec.UserID, rec.RefreshTokenHash2,
		nilToEmpty(rec.SessionData), rec.ExpiresAt, nilToEmpty(rec.JWTPayload), rec.LastUpdatedSign)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetSessionInfo returns the row for handle, or ErrSessionNotFound.
func (s *PostgresStore) GetSessionInfo(ctx context.Context, handle string) (*Record, error) {
	rec := &Record{Handle: handle}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, refresh_token_hash_2, session_info, expires_at, jwt_user_payload, last_updated_sign
		FROM `+s.sessionIdent+`
		WHERE session_handle = $1
	`, handle).Scan(
		&rec.UserID,
		&rec.RefreshTokenHash2,
		&rec.SessionData,
		&rec.ExpiresAt,
		&rec.JWTPayload,
		&rec.LastUpdatedSign,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec.SessionData = emptyToNil(rec.SessionData)
	rec.JWTPayload = emptyToNil(rec.JWTPayload)
	return rec, nil
}

// UpdateSessionInfo is a compare-and-swap on last_updated_sign. It returns
// the number of rows changed, 0 when the sign moved.
func (s *PostgresStore) UpdateSessionInfo(
	ctx context.Context,
	handle, refreshTokenHash2 string,
	sessionData []byte,
	expiresAt int64,
	expectedSign string,
) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessionIdent+`
		SET refresh_token_hash_2 = $1, session_info = $2, expires_at = $3, last_updated_sign = $4
		WHERE session_handle = $5 AND last_updated_sign = $6
	`, refreshTokenHash2, nilToEmpty(sessionData), expiresAt, NewSign(), handle, expectedSign)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// GetSessionData returns session_info and whether the row exists.
func (s *PostgresStore) GetSessionData(ctx context.Context, handle string) ([]byte, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT session_info FROM `+s.sessionIdent+` WHERE session_handle = $1`, handle).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return emptyToNil(data), true, nil
}

// UpdateSessionData replaces session_info and bumps the version sign.
func (s *PostgresStore) UpdateSessionData(ctx context.Context, handle string, sessionData []byte) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessionIdent+`
		SET session_info = $1, last_updated_sign = $2
		WHERE session_handle = $3
	`, nilToEmpty(sessionData), NewSign(), handle)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteSession deletes the row for handle.
func (s *PostgresStore) DeleteSession(ctx context.Context, handle string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessionIdent+` WHERE session_handle = $1`, handle)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// GetAllSessionHandlesForUser returns every handle stored for userID.
func (s *PostgresStore) GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT session_handle FROM `+s.sessionIdent+` WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	handles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return handles, nil
}

// DeleteAllExpiredSessions deletes rows with expires_at <= nowMillis.
func (s *PostgresStore) DeleteAllExpiredSessions(ctx context.Context, nowMillis int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessionIdent+` WHERE expires_at <= $1`, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// IsSessionBlacklisted reports whether the row for handle is gone.
func (s *PostgresStore) IsSessionBlacklisted(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.sessionIdent+` WHERE session_handle = $1)`, handle,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return !exists, nil
}

// GetKeyValue returns the named key row, or ErrKeyNotFound.
func (s *PostgresStore) GetKeyValue(ctx context.Context, name string) (*KeyValue, error) {
	kv := &KeyValue{Name: name}
	err := s.pool.QueryRow(ctx, `
		SELECT key_value, created_at_time, last_updated_sign
		FROM `+s.keyIdent+`
		WHERE key_name = $1
	`, name).Scan(&kv.Value, &kv.CreatedAt, &kv.LastUpdatedSign)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return kv, nil
}

// InsertKeyIfAbsent inserts kv unless the name exists and reports whether
// it wrote.
func (s *PostgresStore) InsertKeyIfAbsent(ctx context.Context, kv KeyValue) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.keyIdent+` (key_name, key_value, created_at_time, last_updated_sign)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key_name) DO NOTHING
	`, kv.Name, kv.Value, kv.CreatedAt, kv.LastUpdatedSign)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateKeyWithVersionMatch is a compare-and-swap on the key row.
func (s *PostgresStore) UpdateKeyWithVersionMatch(ctx context.Context, name, value string, createdAt int64, expectedSign string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.keyIdent+`
		SET key_value = $1, created_at_time = $2, last_updated_sign = $3
		WHERE key_name = $4 AND last_updated_sign = $5
	`, value, createdAt, NewSign(), name, expectedSign)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// Ping returns a point-in-time PostgreSQL availability check and latency.
func (s *PostgresStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.pool.Ping(ctx); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
