package token

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh random token.
func New() (uuid.UUID, error) {
	return uuid.NewRandom()
}

// Parse accepts only the canonical 36-char form of a random UUID.
// Braced, URN and hex-only spellings accepted by uuid.Parse are rejected so
// that one token has exactly one wire form.
func Parse(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if len(s) != 36 {
		return uuid.Nil, ErrMalformed
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ErrMalformed
	}
	if u == uuid.Nil || u.Version() != 4 || u.Variant() != uuid.RFC4122 {
		return uuid.Nil, ErrMalformed
	}
	return u, nil
}
