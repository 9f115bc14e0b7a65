package password

import "errors"

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")

	// ErrConfig wraps every configuration failure returned by FromEnv / FromLookup.
	ErrConfig = errors.New("password: invalid config")
)
