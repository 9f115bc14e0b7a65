package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "GATEKEEP_TOKEN_HMAC_KEY"

	// HashHexLen is the length of every digest produced by this package.
	HashHexLen = 64
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// LookupFunc resolves a configuration key, reporting whether it is set.
type LookupFunc func(key string) (string, bool)

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	return HMACKeyFromLookup(os.LookupEnv, minBytes)
}

// HMACKeyFromLookup is HMACKeyFromEnv over an arbitrary key source.
func HMACKeyFromLookup(lookup LookupFunc, minBytes int) ([]byte, error) {
	v, _ := lookup(HMACEnvKey)
	raw := strings.TrimSpace(v)
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Hasher hashes tokens for server-side storage.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. A nil or empty key selects SHA-256 mode.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv builds a Hasher from GATEKEEP_TOKEN_HMAC_KEY.
// A missing key yields a SHA-256 Hasher; a present key shorter than minBytes is an error.
func HasherFromEnv(minBytes int) (Hasher, error) {
	return HasherFromLookup(os.LookupEnv, minBytes)
}

// HasherFromLookup is HasherFromEnv over an arbitrary key source.
func HasherFromLookup(lookup LookupFunc, minBytes int) (Hasher, error) {
	key, err := HMACKeyFromLookup(lookup, minBytes)
	switch {
	case err == nil:
		return NewHasher(key), nil
	case errors.Is(err, ErrHMACKeyMissing):
		return Hasher{}, nil
	default:
		return Hasher{}, err
	}
}

// HMAC reports whether the Hasher is keyed.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// Hash returns the 64-char hex digest stored for tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}

// EqualHex compares two stored digests in constant time.
// Anything that is not exactly HashHexLen long never matches.
func EqualHex(a, b string) bool {
	if len(a) != HashHexLen || len(b) != HashHexLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
