package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinUsernameLen = 3
	MaxUsernameLen = 64
)

// NormalizeUsername performs case-insensitive canonicalization.
// Only trim + lower-case for now.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername checks a username for provisioning. Logins never call it:
// an unusual name simply fails to match.
func ValidateUsername(s string) error {
	const op = "identity.ValidateUsername"

	n := utf8.RuneCountInString(strings.TrimSpace(s))
	if n < MinUsernameLen || n > MaxUsernameLen {
		return invalid(op, "username length out of range")
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return invalid(op, "username contains whitespace or control characters")
		}
	}
	return nil
}
