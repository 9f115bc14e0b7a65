// Package identity owns gatekeep's user records: username normalization,
// ULID ids, provisioning, and the credential lookup logins verify against.
//
// Postgres, Redis and in-memory stores share one contract (Store).
package identity
