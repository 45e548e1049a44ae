package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/session"
)

// CreateFailureKind classifies create flow failures for root-level mapping.
type CreateFailureKind int

const (
	CreateFailureNone CreateFailureKind = iota
	CreateFailureIssueRefresh
	CreateFailureIssueAccess
	CreateFailureStore
)

// CreateRequest describes a new session. UserID is the canonical form.
type CreateRequest struct {
	UserID      string
	JWTPayload  []byte
	SessionData []byte
}

// CreateResult carries the new token bundle or failure metadata.
type CreateResult struct {
	Failure        CreateFailureKind
	Err            error
	Handle         string
	UserID         string
	JWTPayload     []byte
	AccessToken    Token
	RefreshToken   Token
	IDRefreshToken Token
	AntiCSRFToken  string
}

type CreateSessionStore interface {
	CreateNewSession(ctx context.Context, rec session.Record) error
}

// CreateDeps captures create flow dependencies.
type CreateDeps struct {
	Tokens          TokenDeps
	Store           CreateSessionStore
	AntiCSRF        bool
	RefreshValidity time.Duration
	Now             func() time.Time
}

// RunCreate mints a root refresh token and its access token and persists the
// record with a fresh sign.
func RunCreate(ctx context.Context, req CreateRequest, deps CreateDeps) CreateResult {
	handle := deps.Tokens.NewHandle()

	rt, rtExpires, err := deps.Tokens.IssueRefresh(ctx, handle, req.UserID, "")
	if err != nil {
		return CreateResult{Failure: CreateFailureIssueRefresh, Err: err, Handle: handle, UserID: req.UserID}
	}

	antiCSRF := deps.Tokens.antiCSRF(deps.AntiCSRF)
	access, accessExpires, err := deps.Tokens.IssueAccess(ctx, jwt.AccessInput{
		SessionHandle:     handle,
		UserID:            req.UserID,
		RefreshTokenHash1: deps.Tokens.Hash(rt),
		AntiCSRFToken:     antiCSRF,
		UserData:          req.JWTPayload,
	})
	if err != nil {
		return CreateResult{Failure: CreateFailureIssueAccess, Err: err, Handle: handle, UserID: req.UserID}
	}

	err = deps.Store.CreateNewSession(ctx, session.Record{
		Handle:            handle,
		UserID:            req.UserID,
		RefreshTokenHash2: deps.Tokens.Hash(deps.Tokens.Hash(rt)),
		SessionData:       req.SessionData,
		ExpiresAt:         deps.Now().Add(deps.RefreshValidity).UnixMilli(),
		JWTPayload:        req.JWTPayload,
		LastUpdatedSign:   session.NewSign(),
	})
	if err != nil {
		return CreateResult{Failure: CreateFailureStore, Err: err, Handle: handle, UserID: req.UserID}
	}

	return CreateResult{
		Failure:        CreateFailureNone,
		Handle:         handle,
		UserID:         req.UserID,
		JWTPayload:     req.JWTPayload,
		AccessToken:    Token{Value: access, Expires: accessExpires},
		RefreshToken:   Token{Value: rt, Expires: rtExpires},
		IDRefreshToken: Token{Value: deps.Tokens.NewUUID(), Expires: rtExpires},
		AntiCSRFToken:  antiCSRF,
	}
}
