package goSession

import (
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	internalmetrics "github.com/MrEthical07/goSession/internal/metrics"
)

// TokenInfo is a minted token and its expiry.
type TokenInfo struct {
	Token  string
	Expiry time.Time
}

// NewSession is the token bundle returned by [Engine.CreateNewSession].
type NewSession struct {
	Handle         string
	UserID         UserID
	JWTPayload     []byte
	AccessToken    TokenInfo
	RefreshToken   TokenInfo
	IDRefreshToken TokenInfo
	// AntiCSRFToken is empty when anti-CSRF is disabled.
	AntiCSRFToken string
}

// RefreshedSession is the token bundle returned by [Engine.RefreshSession].
// Every field is new except Handle, UserID and JWTPayload.
type RefreshedSession struct {
	Handle         string
	UserID         UserID
	JWTPayload     []byte
	AccessToken    TokenInfo
	RefreshToken   TokenInfo
	IDRefreshToken TokenInfo
	AntiCSRFToken  string
}

// SessionResult is the verified identity behind an access token.
// NewAccessToken is set when the caller must replace the presented token.
type SessionResult struct {
	Handle         string
	UserID         UserID
	JWTPayload     []byte
	NewAccessToken *TokenInfo
}

// AntiCSRFCheck is the anti-CSRF input of [Engine.GetSession]. The zero value
// is undefined and is a usage error while anti-CSRF is enabled.
type AntiCSRFCheck struct {
	mode  flows.AntiCSRFMode
	value string
}

// AntiCSRFNone states that the request carries no anti-CSRF token.
func AntiCSRFNone() AntiCSRFCheck {
	return AntiCSRFCheck{mode: flows.AntiCSRFNone}
}

// AntiCSRFToken carries the anti-CSRF token presented with the request.
func AntiCSRFToken(v string) AntiCSRFCheck {
	return AntiCSRFCheck{mode: flows.AntiCSRFValue, value: v}
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON lines to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink returns a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID = internalmetrics.MetricID

const (
	MetricSessionCreated         = internalmetrics.MetricSessionCreated
	MetricSessionCreateFailure   = internalmetrics.MetricSessionCreateFailure
	MetricGetSessionSuccess      = internalmetrics.MetricGetSessionSuccess
	MetricGetSessionTryRefresh   = internalmetrics.MetricGetSessionTryRefresh
	MetricGetSessionUnauthorized = internalmetrics.MetricGetSessionUnauthorized
	MetricSessionPromoted        = internalmetrics.MetricSessionPromoted
	MetricAccessTokenReissued    = internalmetrics.MetricAccessTokenReissued
	MetricRefreshSuccess         = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure         = internalmetrics.MetricRefreshFailure
	MetricTokenTheftDetected     = internalmetrics.MetricTokenTheftDetected
	MetricCASConflict            = internalmetrics.MetricCASConflict
	MetricCASExhausted           = internalmetrics.MetricCASExhausted
	MetricSessionRevoked         = internalmetrics.MetricSessionRevoked
	MetricUserSessionsRevoked    = internalmetrics.MetricUserSessionsRevoked
	MetricSessionDataUpdated     = internalmetrics.MetricSessionDataUpdated
	MetricExpiredSessionsSwept   = internalmetrics.MetricExpiredSessionsSwept
	MetricSigningKeyRotated      = internalmetrics.MetricSigningKeyRotated
	MetricStoreError             = internalmetrics.MetricStoreError
	MetricGetSessionLatency      = internalmetrics.MetricGetSessionLatency
	MetricRefreshLatency         = internalmetrics.MetricRefreshLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics]. When cfg.Enabled is false every operation
// is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
