// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunCreate, RunGetSession, RunRefresh, etc.) accepts a
// typed dependency struct and returns a result carrying a FailureKind, which the
// Engine maps to public errors in one place.
//
// # Rotation
//
// The store holds H(H(parent)) for the current parent refresh token. A refresh
// token equal to the parent mints a child without writing. A child (its prt
// hashes to the stored value) is promoted with a compare-and-swap on the
// record's sign; a lost swap re-reads and re-compares in an explicit loop.
// Anything else presented to RunRefresh is theft.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the session store and the token codecs.
// They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goSession (to avoid import cycles).
//   - Lock across store round-trips. Coordination is compare-and-swap only.
package flows
