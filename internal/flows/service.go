package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.GetSession.Tokens.ParseAccess != nil
}

func (s Service) Create(ctx context.Context, req CreateRequest) CreateResult {
	return RunCreate(ctx, req, s.deps.Create)
}

func (s Service) GetSession(ctx context.Context, req GetSessionRequest) GetSessionResult {
	return RunGetSession(ctx, req, s.deps.GetSession)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) RevokeSession(ctx context.Context, handle string) (bool, error) {
	return RunRevokeSession(ctx, handle, s.deps.Revoke)
}

func (s Service) RevokeAllForUser(ctx context.Context, userID string) ([]string, error) {
	return RunRevokeAllForUser(ctx, userID, s.deps.Revoke)
}

func (s Service) ListHandles(ctx context.Context, userID string) ([]string, error) {
	return RunListHandles(ctx, userID, s.deps.Revoke)
}

func (s Service) GetSessionData(ctx context.Context, handle string) ([]byte, bool, error) {
	return RunGetSessionData(ctx, handle, s.deps.SessionData)
}

func (s Service) UpdateSessionData(ctx context.Context, handle string, data []byte) (bool, error) {
	return RunUpdateSessionData(ctx, handle, data, s.deps.SessionData)
}

func (s Service) Sweep(ctx context.Context) (int64, error) {
	return RunSweep(ctx, s.deps.Sweep)
}
