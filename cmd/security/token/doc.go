// Package token provides the token primitives for gatekeep.
//
// It is the single source of truth for how session and refresh tokens are
// generated and how they are hashed for server-side storage.
//
// Generation:
//   - Tokens are random (version 4) UUIDs: 122 bits from crypto/rand,
//     rendered in canonical 8-4-4-4-12 form on the wire.
//
// Hashing:
//   - Default dev mode: SHA-256(token) when no HMAC key is configured.
//   - Production mode: HMAC-SHA256(token, key).
//   - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
//   - GATEKEEP_TOKEN_HMAC_KEY: when set, enables HMAC mode.
package token
