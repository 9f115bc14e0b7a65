// Package password hashes and verifies user passwords with Argon2id.
//
// Encoded hashes use the PHC string form
// ($argon2id$v=19$m=<kib>,t=<iter>,p=<par>$<salt>$<key>) and are treated
// as untrusted input when verified: parameters far above the configured
// cost are refused instead of computed.
//
// DummyHash gives stores a fixed hash to verify against when a username is
// unknown, so a miss costs the same as a wrong password.
package password
