// Package refresh seals and opens the opaque refresh tokens of a session chain.
//
// # Token format
//
// base64url(nonce || XChaCha20-Poly1305(json{sessionHandle, userId, prt})).
// The token is self-describing: a child token names the hash of its parent
// (prt) so the rotation flow can recognize it before the store has been
// promoted. Tokens are never stored; the session store retains only a double
// hash of the current parent.
//
// # Architecture boundaries
//
// This package owns sealing and structural validation. Rotation policy and
// theft detection are handled by the rotation flows and the session store.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Import goSession, jwt, or session.
//   - Implement rotation or replay logic.
package refresh
