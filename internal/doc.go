// Package internal contains helper utilities that are private to goSession:
// session handle and anti-CSRF token generation, refresh token hashing and
// signing-key material.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - logger: slog attribute helpers
//   - metrics: lock-free counters and latency histograms
//   - signingkey: store-backed signing keys with optional rotation
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
//   - Be imported by any package outside the goSession module.
package internal
