package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureSessionNotFound
	RefreshFailureSessionExpired
	RefreshFailureUserMismatch
	RefreshFailureTheft
	RefreshFailureStore
	RefreshFailureIssueRefresh
	RefreshFailureIssueAccess
	RefreshFailureCASExhausted
)

// RefreshResult carries either the issued token bundle or failure metadata.
type RefreshResult struct {
	Failure        RefreshFailureKind
	Err            error
	Handle         string
	UserID         string
	JWTPayload     []byte
	AccessToken    Token
	RefreshToken   Token
	IDRefreshToken Token
	AntiCSRFToken  string
	Promoted       bool
	CASConflicts   int
}

type RefreshSessionStore interface {
	GetSessionInfo(ctx context.Context, handle string) (*session.Record, error)
	UpdateSessionInfo(ctx context.Context, handle, refreshTokenHash2 string, sessionData []byte, expiresAt int64, expectedSign string) (int64, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Tokens          TokenDeps
	Store           RefreshSessionStore
	AntiCSRF        bool
	RefreshValidity time.Duration
	MaxCASAttempts  int
	Now             func() time.Time
	Debug           func(string, ...any)
}

// RunRefresh executes one refresh-token rotation.
//
// Every pass re-reads the record and re-checks liveness and ownership before
// classifying the presented token as parent, child or theft.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	info, err := deps.Tokens.DecodeRefresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, refresh.ErrKeyUnavailable) {
			return RefreshResult{Failure: RefreshFailureStore, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}
	res := RefreshResult{Handle: info.SessionHandle, UserID: info.UserID}

	hash1 := deps.Tokens.Hash(refreshToken)
	hash2 := deps.Tokens.Hash(hash1)

	for {
		rec, err := deps.Store.GetSessionInfo(ctx, info.SessionHandle)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				res.Failure = RefreshFailureSessionNotFound
				return res
			}
			res.Failure, res.Err = RefreshFailureStore, err
			return res
		}
		now := deps.Now()
		if rec.Expired(now.UnixMilli()) {
			res.Failure = RefreshFailureSessionExpired
			return res
		}
		if rec.UserID != info.UserID {
			res.Failure = RefreshFailureUserMismatch
			return res
		}

		if rec.RefreshTokenHash2 == hash2 {
			return issueChild(ctx, res, rec, hash1, deps)
		}

		if info.ParentRefreshTokenHash1 != "" && deps.Tokens.Hash(info.ParentRefreshTokenHash1) == rec.RefreshTokenHash2 {
			n, err := deps.Store.UpdateSessionInfo(
				ctx,
				info.SessionHandle,
				hash2,
				rec.SessionData,
				now.Add(deps.RefreshValidity).UnixMilli(),
				rec.LastUpdatedSign,
			)
			if err != nil {
				res.Failure, res.Err = RefreshFailureStore, err
				return res
			}
			if n == 1 {
				res.Promoted = true
				continue
			}
			res.CASConflicts++
			if deps.Debug != nil {
				deps.Debug("goSession: refresh promotion lost compare-and-swap", "session_handle", info.SessionHandle, "attempt", res.CASConflicts)
			}
			if casExhausted(res.CASConflicts, deps.MaxCASAttempts) {
				res.Failure = RefreshFailureCASExhausted
				return res
			}
			continue
		}

		res.Failure = RefreshFailureTheft
		return res
	}
}

// issueChild mints the next generation for a parent refresh token. The store
// is not written; the child is promoted on first use.
func issueChild(ctx context.Context, res RefreshResult, rec *session.Record, parentHash1 string, deps RefreshDeps) RefreshResult {
	child, childExpires, err := deps.Tokens.IssueRefresh(ctx, rec.Handle, rec.UserID, parentHash1)
	if err != nil {
		res.Failure, res.Err = RefreshFailureIssueRefresh, err
		return res
	}

	antiCSRF := deps.Tokens.antiCSRF(deps.AntiCSRF)
	access, accessExpires, err := deps.Tokens.IssueAccess(ctx, jwt.AccessInput{
		SessionHandle:           rec.Handle,
		UserID:                  rec.UserID,
		RefreshTokenHash1:       deps.Tokens.Hash(child),
		ParentRefreshTokenHash1: parentHash1,
		AntiCSRFToken:           antiCSRF,
		UserData:                rec.JWTPayload,
	})
	if err != nil {
		res.Failure, res.Err = RefreshFailureIssueAccess, err
		return res
	}

	res.JWTPayload = rec.JWTPayload
	res.AccessToken = Token{Value: access, Expires: accessExpires}
	res.RefreshToken = Token{Value: child, Expires: childExpires}
	res.IDRefreshToken = Token{Value: deps.Tokens.NewUUID(), Expires: childExpires}
	res.AntiCSRFToken = antiCSRF
	return res
}
