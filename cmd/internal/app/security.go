package app

import (
	"errors"
	"fmt"

	"gatekeep/cmd/security/token"
)

// tokenHasher builds the session/refresh token hasher. A missing
// GATEKEEP_TOKEN_HMAC_KEY falls back to plain SHA-256 unless require is set.
func tokenHasher(require bool, lookup token.LookupFunc) (token.Hasher, error) {
	h, err := token.HasherFromLookup(lookup, minHMACKeyBytes)
	if err != nil {
		if errors.Is(err, token.ErrHMACKeyTooShort) {
			return token.Hasher{}, fmt.Errorf("security policy: GATEKEEP_TOKEN_HMAC_KEY is too short (min %d bytes)", minHMACKeyBytes)
		}
		return token.Hasher{}, err
	}

	if require && !h.HMAC() {
		return token.Hasher{}, errors.New("security policy: GATEKEEP_REQUIRE_TOKEN_HMAC=true but GATEKEEP_TOKEN_HMAC_KEY is missing")
	}
	return h, nil
}
