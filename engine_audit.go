package goSession

import (
	"context"
	"errors"
)

const (
	auditEventSessionCreated       = "session_created"
	auditEventSessionCreateFailure = "session_create_failure"
	auditEventSessionPromoted      = "session_promoted"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshFailure       = "refresh_failure"
	auditEventTokenTheftDetected   = "token_theft_detected"
	auditEventSessionRevoked       = "session_revoked"
	auditEventUserSessionsRevoked  = "user_sessions_revoked"
	auditEventSessionDataUpdated   = "session_data_updated"
	auditEventExpiredSessionsSwept = "expired_sessions_swept"
	auditEventSigningKeyRotated    = "signing_key_rotated"
)

// AuditErrorCode is the stable error label written to [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrUnauthorized AuditErrorCode = "unauthorized"
	auditErrTryRefresh   AuditErrorCode = "try_refresh"
	auditErrTokenTheft   AuditErrorCode = "token_theft"
	auditErrUsage        AuditErrorCode = "usage"
	auditErrUnavailable  AuditErrorCode = "backend_unavailable"
	auditErrInternal     AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	handle string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:     e.now().UTC(),
		EventType:     eventType,
		UserID:        userID,
		SessionHandle: handle,
		IP:            clientIPFromContext(ctx),
		Success:       success,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTokenTheftDetected):
		return auditErrTokenTheft
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrTryRefresh):
		return auditErrTryRefresh
	case errors.Is(err, ErrUsage):
		return auditErrUsage
	case errors.Is(err, ErrGeneral), errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
