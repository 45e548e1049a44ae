// Package prometheus renders goSession metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] reads Engine.MetricsSnapshot and exposes an
// [http.Handler]. Counter names are prefixed gosession_ and end in _total;
// the two latency histograms end in _seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
