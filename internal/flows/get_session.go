package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/session"
)

// AntiCSRFMode is the tri-state anti-CSRF input of a GetSession call.
type AntiCSRFMode int

const (
	AntiCSRFUndefined AntiCSRFMode = iota
	AntiCSRFNone
	AntiCSRFValue
)

// GetSessionFailureKind classifies GetSession failures for root-level mapping.
type GetSessionFailureKind int

const (
	GetSessionFailureNone GetSessionFailureKind = iota
	GetSessionFailureAntiCSRFUndefined
	GetSessionFailureDecode
	GetSessionFailureAntiCSRFMismatch
	GetSessionFailureBlacklisted
	GetSessionFailureNotFound
	GetSessionFailureStale
	GetSessionFailureStore
	GetSessionFailureIssueAccess
	GetSessionFailureCASExhausted
)

// GetSessionRequest is one access-token verification.
type GetSessionRequest struct {
	AccessToken  string
	AntiCSRFMode AntiCSRFMode
	AntiCSRF     string
}

// GetSessionResult carries the verified identity, an optional replacement
// access token, or failure metadata.
type GetSessionResult struct {
	Failure        GetSessionFailureKind
	Err            error
	Handle         string
	UserID         string
	JWTPayload     []byte
	NewAccessToken *Token
	Promoted       bool
	CASConflicts   int
}

type GetSessionStore interface {
	GetSessionInfo(ctx context.Context, handle string) (*session.Record, error)
	UpdateSessionInfo(ctx context.Context, handle, refreshTokenHash2 string, sessionData []byte, expiresAt int64, expectedSign string) (int64, error)
	IsSessionBlacklisted(ctx context.Context, handle string) (bool, error)
}

// GetSessionDeps captures GetSession flow dependencies.
type GetSessionDeps struct {
	Tokens          TokenDeps
	Store           GetSessionStore
	AntiCSRF        bool
	Blacklisting    bool
	RefreshValidity time.Duration
	MaxCASAttempts  int
	Now             func() time.Time
	Debug           func(string, ...any)
}

var errAntiCSRFMismatch = errors.New("anti-csrf token mismatch")

// RunGetSession verifies an access token and, when the token still names a
// pending parent, promotes its refresh token in the store.
func RunGetSession(ctx context.Context, req GetSessionRequest, deps GetSessionDeps) GetSessionResult {
	if deps.AntiCSRF && req.AntiCSRFMode == AntiCSRFUndefined {
		return GetSessionResult{Failure: GetSessionFailureAntiCSRFUndefined}
	}

	claims, err := deps.Tokens.ParseAccess(ctx, req.AccessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrKeyUnavailable) {
			return GetSessionResult{Failure: GetSessionFailureStore, Err: err}
		}
		return GetSessionResult{Failure: GetSessionFailureDecode, Err: err}
	}
	res := GetSessionResult{
		Handle:     claims.SessionHandle,
		UserID:     claims.UserID,
		JWTPayload: claims.UserData,
	}

	if deps.AntiCSRF {
		if req.AntiCSRFMode == AntiCSRFNone || req.AntiCSRF != claims.AntiCSRFToken {
			res.Failure, res.Err = GetSessionFailureAntiCSRFMismatch, errAntiCSRFMismatch
			return res
		}
	}

	if deps.Blacklisting {
		blacklisted, err := deps.Store.IsSessionBlacklisted(ctx, claims.SessionHandle)
		if err != nil {
			res.Failure, res.Err = GetSessionFailureStore, err
			return res
		}
		if blacklisted {
			res.Failure = GetSessionFailureBlacklisted
			return res
		}
	}

	if claims.ParentRefreshTokenHash1 == "" {
		return res
	}

	parentHash2 := deps.Tokens.Hash(claims.ParentRefreshTokenHash1)
	childHash2 := deps.Tokens.Hash(claims.RefreshTokenHash1)

	for {
		rec, err := deps.Store.GetSessionInfo(ctx, claims.SessionHandle)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				res.Failure = GetSessionFailureNotFound
				return res
			}
			res.Failure, res.Err = GetSessionFailureStore, err
			return res
		}
		now := deps.Now()
		if rec.Expired(now.UnixMilli()) {
			res.Failure = GetSessionFailureNotFound
			return res
		}

		promote := rec.RefreshTokenHash2 == parentHash2
		if !promote && rec.RefreshTokenHash2 != childHash2 {
			// Superseded by a later generation; the client must refresh.
			res.Failure = GetSessionFailureStale
			return res
		}

		if promote {
			n, err := deps.Store.UpdateSessionInfo(
				ctx,
				claims.SessionHandle,
				childHash2,
				rec.SessionData,
				now.Add(deps.RefreshValidity).UnixMilli(),
				rec.LastUpdatedSign,
			)
			if err != nil {
				res.Failure, res.Err = GetSessionFailureStore, err
				return res
			}
			if n != 1 {
				res.CASConflicts++
				if deps.Debug != nil {
					deps.Debug("goSession: promotion lost compare-and-swap", "session_handle", claims.SessionHandle, "attempt", res.CASConflicts)
				}
				if casExhausted(res.CASConflicts, deps.MaxCASAttempts) {
					res.Failure = GetSessionFailureCASExhausted
					return res
				}
				continue
			}
			res.Promoted = true
		}

		access, expires, err := deps.Tokens.IssueAccess(ctx, jwt.AccessInput{
			SessionHandle:     claims.SessionHandle,
			UserID:            claims.UserID,
			RefreshTokenHash1: claims.RefreshTokenHash1,
			AntiCSRFToken:     claims.AntiCSRFToken,
			UserData:          claims.UserData,
		})
		if err != nil {
			res.Failure, res.Err = GetSessionFailureIssueAccess, err
			return res
		}
		res.NewAccessToken = &Token{Value: access, Expires: expires}
		return res
	}
}
