package goSession

import (
	"errors"
	"fmt"
)

var (
	// ErrTryRefresh means the access token could not be used as presented and
	// the client should call RefreshSession.
	ErrTryRefresh = errors.New("try refresh token")
	// ErrUnauthorized means the session is gone, expired or not owned by the
	// presented identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenTheftDetected is matched by every [TokenTheftError].
	ErrTokenTheftDetected = errors.New("token theft detected")
	// ErrGeneral wraps store and codec failures.
	ErrGeneral = errors.New("general error")
	// ErrUsage marks caller mistakes.
	ErrUsage = errors.New("usage error")

	ErrAntiCSRFUndefined = fmt.Errorf("%w: anti-csrf check must be set when anti-csrf is enabled", ErrUsage)
	ErrInvalidUserID     = fmt.Errorf("%w: invalid user id", ErrUsage)
	ErrEngineNotReady    = errors.New("engine not initialized")
)

// TokenTheftError reports the replay of a superseded refresh token. The caller
// is expected to revoke SessionHandle.
type TokenTheftError struct {
	SessionHandle string
	UserID        UserID
}

func (e *TokenTheftError) Error() string {
	return "token theft detected for session " + e.SessionHandle
}

// Unwrap lets errors.Is match both ErrUnauthorized and ErrTokenTheftDetected.
func (e *TokenTheftError) Unwrap() []error {
	return []error{ErrUnauthorized, ErrTokenTheftDetected}
}

func generalError(err error) error {
	if err == nil {
		return ErrGeneral
	}
	return fmt.Errorf("%w: %v", ErrGeneral, err)
}
