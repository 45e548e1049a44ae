package flows

import (
	"context"
	"time"
)

type SweepStore interface {
	DeleteAllExpiredSessions(ctx context.Context, nowMillis int64) (int64, error)
}

// SweepDeps captures expiry sweep dependencies.
type SweepDeps struct {
	Store SweepStore
	Now   func() time.Time
}

// RunSweep deletes every session whose chain expiry has passed.
func RunSweep(ctx context.Context, deps SweepDeps) (int64, error) {
	return deps.Store.DeleteAllExpiredSessions(ctx, deps.Now().UnixMilli())
}
