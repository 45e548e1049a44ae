package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionCreated, Name: "gosession_session_created_total", Help: "Created sessions."},
	{ID: goSession.MetricSessionCreateFailure, Name: "gosession_session_create_failure_total", Help: "Failed session creations."},
	{ID: goSession.MetricGetSessionSuccess, Name: "gosession_get_session_success_total", Help: "Verified access tokens."},
	{ID: goSession.MetricGetSessionTryRefresh, Name: "gosession_get_session_try_refresh_total", Help: "Access tokens answered with try-refresh."},
	{ID: goSession.MetricGetSessionUnauthorized, Name: "gosession_get_session_unauthorized_total", Help: "Access tokens rejected as unauthorized."},
	{ID: goSession.MetricSessionPromoted, Name: "gosession_session_promoted_total", Help: "Refresh tokens promoted to chain parent."},
	{ID: goSession.MetricAccessTokenReissued, Name: "gosession_access_token_reissued_total", Help: "Replacement access tokens minted by GetSession."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful refresh operations."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Failed refresh operations, theft excluded."},
	{ID: goSession.MetricTokenTheftDetected, Name: "gosession_token_theft_detected_total", Help: "Replays of superseded refresh tokens."},
	{ID: goSession.MetricCASConflict, Name: "gosession_cas_conflict_total", Help: "Lost compare-and-swap attempts during promotion."},
	{ID: goSession.MetricCASExhausted, Name: "gosession_cas_exhausted_total", Help: "Promotions abandoned at the compare-and-swap bound."},
	{ID: goSession.MetricSessionRevoked, Name: "gosession_session_revoked_total", Help: "Revoked sessions."},
	{ID: goSession.MetricUserSessionsRevoked, Name: "gosession_user_sessions_revoked_total", Help: "Revoke-all-for-user operations."},
	{ID: goSession.MetricSessionDataUpdated, Name: "gosession_session_data_updated_total", Help: "Session data updates."},
	{ID: goSession.MetricExpiredSessionsSwept, Name: "gosession_expired_sessions_swept_total", Help: "Expired sessions removed by the sweeper."},
	{ID: goSession.MetricSigningKeyRotated, Name: "gosession_signing_key_rotated_total", Help: "Signing keys created or rotated by this process."},
	{ID: goSession.MetricStoreError, Name: "gosession_store_error_total", Help: "Session store failures."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricGetSessionLatency, Name: "gosession_get_session_latency_seconds", Help: "GetSession latency histogram."},
	{ID: goSession.MetricRefreshLatency, Name: "gosession_refresh_latency_seconds", Help: "RefreshSession latency histogram."},
}

// HistogramBounds are the upper bounds of the eight engine buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for metric names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
