package goSession

import "context"

// GetSessionData returns the server-side data of a session. The token chain is
// not checked; validate the session with GetSession first. A missing session
// is ErrUnauthorized.
func (e *Engine) GetSessionData(ctx context.Context, handle string) ([]byte, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	data, ok, err := e.flows.GetSessionData(ctx, handle)
	if err != nil {
		e.logStoreError("get session data failed", handle, err)
		return nil, generalError(err)
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	return data, nil
}

// UpdateSessionData replaces the server-side data of a session. A missing
// session is ErrUnauthorized.
func (e *Engine) UpdateSessionData(ctx context.Context, handle string, data []byte) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ok, err := e.flows.UpdateSessionData(ctx, handle, cloneBytes(data))
	if err != nil {
		e.logStoreError("update session data failed", handle, err)
		return generalError(err)
	}
	if !ok {
		return ErrUnauthorized
	}

	e.metricInc(MetricSessionDataUpdated)
	e.emitAudit(ctx, auditEventSessionDataUpdated, true, "", handle, nil, nil)
	return nil
}
