// Package goSession is a server-side session core: it issues, validates,
// rotates and revokes sessions identified by a session handle and carried by
// a signed access token and an opaque refresh token.
//
// Refresh tokens form a linear chain per session. Only the current tip is
// persisted, as a double hash. A child is minted on refresh and promoted to
// parent on first use, by compare-and-swap on the record's version sign.
// Replaying a superseded ancestor is reported as [TokenTheftError].
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface: [Engine], [Builder], [Config], [UserID] and
// the returned value types. Rotation logic lives in internal/flows as pure
// functions over injected dependencies. Storage adapters live in session/.
//
// # What this package must NOT do
//
//   - Hold locks across store round-trips. Coordination is compare-and-swap only.
//   - Expose store-specific error shapes. Store failures surface as [ErrGeneral].
//   - Keep process-wide state. Every Engine owns its config.
package goSession
