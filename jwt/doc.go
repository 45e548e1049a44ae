// Package jwt mints and verifies the signed access tokens of a session chain.
//
// An access token carries the session handle, the user id, the hash of the
// refresh token it was issued with and, until that refresh token is promoted,
// the hash of its parent. HS256 keys come from a [KeyFunc] so they can rotate;
// tokens signed with a rotated-out key simply fail verification.
package jwt
