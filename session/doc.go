// Package session provides the persistence contract for rotating session chains
// and the signing keys that protect them, plus Redis, MongoDB and PostgreSQL
// adapters for that contract.
//
// # Compare-and-swap
//
// Every mutation of a [Record] assigns a fresh LastUpdatedSign. Writers that
// race on the same session condition their update on the sign they read and
// learn about a lost race from a zero row count, never from an error. The same
// discipline applies to [KeyValue] updates.
//
// # Binary encoding
//
// The Redis adapter stores records in a compact versioned binary format (see
// [Encode]). The sign sits at a fixed offset so the Lua scripts can compare it
// without parsing the rest of the blob.
//
// # Architecture boundaries
//
// This package owns the [Store] and [KeyStore] contracts and their adapters. It
// does NOT interpret tokens, compare refresh hashes, or decide theft. Those
// responsibilities belong to the rotation flows.
//
// # What this package must NOT do
//
//   - Import goSession, jwt, or refresh (no upward imports).
//   - Retry a lost compare-and-swap on behalf of the caller.
//   - Store raw refresh tokens. Only double hashes are persisted.
package session
