// Package session implements gatekeep's login and refresh-rotation protocol.
//
// Login verifies a credential and opens a session bound to the caller's
// network prefix, returning a session token and a single-use refresh token.
// Rotate exchanges a live refresh token for a new one (and, by policy, a new
// session token) when presented from the same prefix. Validate answers
// whether a session token currently names an active session.
//
// Tokens are random UUIDs generated here; stores only ever see their
// digests. Every store error is mapped to one of ErrValidation,
// ErrInvalidCredentials, ErrInvalidRefresh, ErrInvalidSession or
// ErrInternal before it leaves the Service.
//
// Persistence is pluggable: PostgresStore, RedisStore and MemoryStore all
// implement Store, and each performs refresh rotation as a single
// compare-and-swap.
package session
