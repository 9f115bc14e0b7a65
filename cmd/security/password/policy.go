package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks the policy. Length counts runes, not bytes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

var trivialPasswords = map[string]struct{}{
	"password": {}, "password123": {}, "123456": {}, "123456789": {},
	"qwerty": {}, "qwerty123": {}, "11111111": {}, "letmein": {},
}

// looksVeryWeak rejects a single repeated character, short digit-only PINs
// and a handful of well-known passwords. It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	allSame, onlyDigits := true, true
	for _, r := range s {
		if r != first {
			allSame = false
		}
		if !unicode.IsDigit(r) {
			onlyDigits = false
		}
	}
	return allSame || (onlyDigits && utf8.RuneCountInString(s) < 12)
}
