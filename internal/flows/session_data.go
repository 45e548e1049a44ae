package flows

import "context"

type SessionDataStore interface {
	GetSessionData(ctx context.Context, handle string) ([]byte, bool, error)
	UpdateSessionData(ctx context.Context, handle string, sessionData []byte) (int64, error)
}

// SessionDataDeps captures session data flow dependencies.
type SessionDataDeps struct {
	Store SessionDataStore
}

// RunGetSessionData returns the opaque data and whether the session exists.
func RunGetSessionData(ctx context.Context, handle string, deps SessionDataDeps) ([]byte, bool, error) {
	return deps.Store.GetSessionData(ctx, handle)
}

// RunUpdateSessionData replaces the opaque data and reports whether the
// session existed.
func RunUpdateSessionData(ctx context.Context, handle string, data []byte, deps SessionDataDeps) (bool, error) {
	n, err := deps.Store.UpdateSessionData(ctx, handle, data)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
