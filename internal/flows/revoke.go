package flows

import "context"

type RevokeSessionStore interface {
	DeleteSession(ctx context.Context, handle string) (int64, error)
	GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error)
}

// RevokeDeps captures revocation flow dependencies.
type RevokeDeps struct {
	Store RevokeSessionStore
}

// RunRevokeSession deletes one session and reports whether it existed.
func RunRevokeSession(ctx context.Context, handle string, deps RevokeDeps) (bool, error) {
	n, err := deps.Store.DeleteSession(ctx, handle)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RunRevokeAllForUser deletes every session of a user and returns the handles
// it actually removed. It is not atomic across handles; a session created
// concurrently survives and a retry removes it.
func RunRevokeAllForUser(ctx context.Context, userID string, deps RevokeDeps) ([]string, error) {
	handles, err := deps.Store.GetAllSessionHandlesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	revoked := make([]string, 0, len(handles))
	for _, handle := range handles {
		n, err := deps.Store.DeleteSession(ctx, handle)
		if err != nil {
			return revoked, err
		}
		if n == 1 {
			revoked = append(revoked, handle)
		}
	}
	return revoked, nil
}

// RunListHandles returns the live session handles of a user.
func RunListHandles(ctx context.Context, userID string, deps RevokeDeps) ([]string, error) {
	return deps.Store.GetAllSessionHandlesForUser(ctx, userID)
}
