// Package middleware exposes an HTTP adapter that verifies goSession access
// tokens on incoming requests.
//
// # Guard
//
// [Guard] reads the bearer access token from the Authorization header and the
// anti-CSRF token from the "anti-csrf" header, calls Engine.GetSession, and
// injects the verified [goSession.SessionResult] into the request context.
// When the engine promotes a pending session, the replacement access token is
// written to the "New-Access-Token" response header before the handler runs.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement session logic itself; all decisions are delegated to
// Engine.GetSession.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Access the session store (Engine handles I/O).
//   - Refresh sessions on the client's behalf.
package middleware
