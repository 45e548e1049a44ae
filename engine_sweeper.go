package goSession

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/goSession/internal/logger"
)

// SweepExpiredSessions deletes every session whose refresh expiry has passed
// and returns how many were removed. It runs on the configured schedule when
// Config.Sweeper.Enabled is set, and may also be called directly.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.flows.Sweep(ctx)
	if err != nil {
		e.logStoreError("sweep expired sessions failed", "", err)
		return 0, generalError(err)
	}

	e.metricAdd(MetricExpiredSessionsSwept, int(n))
	e.emitAudit(ctx, auditEventExpiredSessionsSwept, true, "", "", nil, func() map[string]string {
		return map[string]string{"count": strconv.FormatInt(n, 10)}
	})
	return n, nil
}

func (e *Engine) runScheduledSweep(ctx context.Context) {
	start := time.Now()
	n, err := e.SweepExpiredSessions(ctx)
	if err != nil {
		return
	}
	e.logger.Info("expired sessions swept",
		logger.Count("removed", n),
		logger.Duration(time.Since(start)),
	)
}
