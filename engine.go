package goSession

import (
	"context"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/logger"
	"github.com/MrEthical07/goSession/session"
	"github.com/robfig/cron/v3"
)

// Engine runs the session lifecycle over one storage backend.
//
// Engine instances are built once by [Builder.Build] and are safe for
// concurrent use. Call Close on shutdown.
type Engine struct {
	config  Config
	backend session.Backend
	flows   flows.Service
	audit   *internalaudit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	sweeper *cron.Cron
	// stopSweep cancels the context of an in-flight scheduled sweep.
	stopSweep context.CancelFunc
	now       func() time.Time
}

// Close stops the scheduled sweeper and drains the audit dispatcher. A sweep
// in flight has its context canceled and is waited for.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopSweep != nil {
		e.stopSweep()
	}
	if e.sweeper != nil {
		<-e.sweeper.Stop().Done()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Ping checks backend availability and returns its round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.backend == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.backend.Ping(ctx)
	if err != nil {
		e.metricInc(MetricStoreError)
		return d, generalError(err)
	}
	return d, nil
}

// AuditDropped returns how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

func (e *Engine) metricObserve(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

func (e *Engine) onKeyRotated(name string) {
	e.metricInc(MetricSigningKeyRotated)
	e.logger.Info("signing key rotated", slog.String("key", name))
	e.emitAudit(context.Background(), auditEventSigningKeyRotated, true, "", "", nil, func() map[string]string {
		return map[string]string{"key": name}
	})
}

func (e *Engine) logStoreError(msg string, handle string, err error) {
	e.metricInc(MetricStoreError)
	e.logger.Error(msg, logger.Handle(handle), logger.Error(err))
}
