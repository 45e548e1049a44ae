package goSession

import (
	"context"
	"strconv"

	"github.com/MrEthical07/goSession/internal/logger"
)

// RevokeSession deletes one session. It reports whether a session was
// removed; revoking an unknown handle is not an error.
func (e *Engine) RevokeSession(ctx context.Context, handle string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	removed, err := e.flows.RevokeSession(ctx, handle)
	if err != nil {
		e.logStoreError("revoke session failed", handle, err)
		return false, generalError(err)
	}
	if removed {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventSessionRevoked, true, "", handle, nil, nil)
	}
	return removed, nil
}

// RevokeAllSessionsForUser deletes every session of userID and returns the
// handles that were removed. On a store error the handles removed before the
// failure are returned with an error matching ErrGeneral.
func (e *Engine) RevokeAllSessionsForUser(ctx context.Context, userID UserID) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	canonical, err := userID.Canonical()
	if err != nil {
		return nil, err
	}

	removed, err := e.flows.RevokeAllForUser(ctx, canonical)
	if err != nil {
		e.metricInc(MetricStoreError)
		e.logger.Error("revoke user sessions failed",
			logger.UserID(canonical),
			logger.Count("removed", int64(len(removed))),
			logger.Error(err),
		)
		return removed, generalError(err)
	}

	e.metricInc(MetricUserSessionsRevoked)
	e.emitAudit(ctx, auditEventUserSessionsRevoked, true, canonical, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(removed))}
	})
	return removed, nil
}

// GetAllSessionHandlesForUser lists the handles of every stored session of
// userID, expired or not.
func (e *Engine) GetAllSessionHandlesForUser(ctx context.Context, userID UserID) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	canonical, err := userID.Canonical()
	if err != nil {
		return nil, err
	}

	handles, err := e.flows.ListHandles(ctx, canonical)
	if err != nil {
		e.metricInc(MetricStoreError)
		e.logger.Error("list user sessions failed", logger.UserID(canonical), logger.Error(err))
		return nil, generalError(err)
	}
	return handles, nil
}
