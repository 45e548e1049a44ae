package goSession

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/logger"
)

// CreateNewSession starts a session chain for userID. jwtPayload is embedded
// in every access token of the chain; sessionData is stored server-side.
// Either may be nil.
func (e *Engine) CreateNewSession(ctx context.Context, userID UserID, jwtPayload, sessionData []byte) (*NewSession, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	canonical, err := userID.Canonical()
	if err != nil {
		return nil, err
	}

	res := e.flows.Create(ctx, flows.CreateRequest{
		UserID:      canonical,
		JWTPayload:  cloneBytes(jwtPayload),
		SessionData: cloneBytes(sessionData),
	})
	if res.Failure != flows.CreateFailureNone {
		e.metricInc(MetricSessionCreateFailure)
		if res.Failure == flows.CreateFailureStore {
			e.logStoreError("session create failed", res.Handle, res.Err)
		} else {
			e.logger.Error("session create failed", logger.UserID(canonical), logger.Error(res.Err))
		}
		err := generalError(res.Err)
		e.emitAudit(ctx, auditEventSessionCreateFailure, false, canonical, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, canonical, res.Handle, nil, nil)

	return &NewSession{
		Handle:         res.Handle,
		UserID:         userID,
		JWTPayload:     res.JWTPayload,
		AccessToken:    tokenInfo(res.AccessToken),
		RefreshToken:   tokenInfo(res.RefreshToken),
		IDRefreshToken: tokenInfo(res.IDRefreshToken),
		AntiCSRFToken:  res.AntiCSRFToken,
	}, nil
}

// GetSession verifies an access token. When the token belongs to a refresh
// token that has not been confirmed yet, the session is promoted and
// SessionResult.NewAccessToken must be handed back to the client.
//
// Errors match ErrTryRefresh when the token should be refreshed, and
// ErrUnauthorized when the session is gone. An undefined anti-CSRF check
// while anti-CSRF is enabled returns ErrAntiCSRFUndefined.
func (e *Engine) GetSession(ctx context.Context, accessToken string, antiCSRF AntiCSRFCheck) (*SessionResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.metricObserve(MetricGetSessionLatency, start)

	res := e.flows.GetSession(ctx, flows.GetSessionRequest{
		AccessToken:  accessToken,
		AntiCSRFMode: antiCSRF.mode,
		AntiCSRF:     antiCSRF.value,
	})
	e.metricAdd(MetricCASConflict, res.CASConflicts)

	if res.Failure != flows.GetSessionFailureNone {
		return nil, e.mapGetSessionFailure(res)
	}

	uid, err := ParseUserID(res.UserID)
	if err != nil {
		e.logger.Error("stored user id is invalid", logger.Handle(res.Handle), logger.Error(err))
		return nil, generalError(err)
	}

	out := &SessionResult{
		Handle:     res.Handle,
		UserID:     uid,
		JWTPayload: res.JWTPayload,
	}
	if res.NewAccessToken != nil {
		t := tokenInfo(*res.NewAccessToken)
		out.NewAccessToken = &t
		e.metricInc(MetricAccessTokenReissued)
	}
	if res.Promoted {
		e.metricInc(MetricSessionPromoted)
		e.emitAudit(ctx, auditEventSessionPromoted, true, res.UserID, res.Handle, nil, nil)
	}
	e.metricInc(MetricGetSessionSuccess)

	return out, nil
}

func (e *Engine) mapGetSessionFailure(res flows.GetSessionResult) error {
	switch res.Failure {
	case flows.GetSessionFailureAntiCSRFUndefined:
		return ErrAntiCSRFUndefined
	case flows.GetSessionFailureDecode, flows.GetSessionFailureAntiCSRFMismatch:
		e.metricInc(MetricGetSessionTryRefresh)
		return ErrTryRefresh
	case flows.GetSessionFailureBlacklisted, flows.GetSessionFailureNotFound, flows.GetSessionFailureStale:
		e.metricInc(MetricGetSessionUnauthorized)
		return ErrUnauthorized
	case flows.GetSessionFailureCASExhausted:
		e.metricInc(MetricCASExhausted)
		e.logger.Warn("session promotion gave up after repeated conflicts",
			logger.Handle(res.Handle),
			logger.Count("attempts", int64(res.CASConflicts)),
		)
		return generalError(res.Err)
	case flows.GetSessionFailureStore:
		e.logStoreError("get session failed", res.Handle, res.Err)
		return generalError(res.Err)
	default:
		e.logger.Error("get session failed", logger.Handle(res.Handle), logger.Error(res.Err))
		return generalError(res.Err)
	}
}

// RefreshSession exchanges a refresh token for a new token bundle.
//
// Replaying a superseded refresh token returns a *TokenTheftError, which
// matches both ErrUnauthorized and ErrTokenTheftDetected. The engine does not
// revoke the session on its own; callers decide.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*RefreshedSession, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.metricObserve(MetricRefreshLatency, start)

	res := e.flows.Refresh(ctx, refreshToken)
	e.metricAdd(MetricCASConflict, res.CASConflicts)

	if res.Failure != flows.RefreshFailureNone {
		err := e.mapRefreshFailure(ctx, res)
		if res.Failure != flows.RefreshFailureTheft {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshFailure, false, res.UserID, res.Handle, err, nil)
		}
		return nil, err
	}

	uid, err := ParseUserID(res.UserID)
	if err != nil {
		e.logger.Error("stored user id is invalid", logger.Handle(res.Handle), logger.Error(err))
		return nil, generalError(err)
	}

	if res.Promoted {
		e.metricInc(MetricSessionPromoted)
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, res.Handle, nil, func() map[string]string {
		return map[string]string{"promoted": strconv.FormatBool(res.Promoted)}
	})

	return &RefreshedSession{
		Handle:         res.Handle,
		UserID:         uid,
		JWTPayload:     res.JWTPayload,
		AccessToken:    tokenInfo(res.AccessToken),
		RefreshToken:   tokenInfo(res.RefreshToken),
		IDRefreshToken: tokenInfo(res.IDRefreshToken),
		AntiCSRFToken:  res.AntiCSRFToken,
	}, nil
}

func (e *Engine) mapRefreshFailure(ctx context.Context, res flows.RefreshResult) error {
	switch res.Failure {
	case flows.RefreshFailureDecode,
		flows.RefreshFailureSessionNotFound,
		flows.RefreshFailureSessionExpired,
		flows.RefreshFailureUserMismatch:
		return ErrUnauthorized
	case flows.RefreshFailureTheft:
		uid, _ := ParseUserID(res.UserID)
		e.metricInc(MetricTokenTheftDetected)
		e.logger.Warn("refresh token reuse detected",
			logger.Handle(res.Handle),
			logger.UserID(res.UserID),
		)
		err := &TokenTheftError{SessionHandle: res.Handle, UserID: uid}
		e.emitAudit(ctx, auditEventTokenTheftDetected, false, res.UserID, res.Handle, err, nil)
		return err
	case flows.RefreshFailureCASExhausted:
		e.metricInc(MetricCASExhausted)
		e.logger.Warn("refresh promotion gave up after repeated conflicts",
			logger.Handle(res.Handle),
			logger.Count("attempts", int64(res.CASConflicts)),
		)
		return generalError(res.Err)
	case flows.RefreshFailureStore:
		e.logStoreError("refresh failed", res.Handle, res.Err)
		return generalError(res.Err)
	default:
		e.logger.Error("refresh failed", logger.Handle(res.Handle), slog.Int("failure", int(res.Failure)), logger.Error(res.Err))
		return generalError(res.Err)
	}
}

func tokenInfo(t flows.Token) TokenInfo {
	return TokenInfo{Token: t.Value, Expiry: t.Expires}
}
