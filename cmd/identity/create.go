package identity

import (
	"fmt"
	"strings"
	"time"

	"gatekeep/cmd/security/password"
)

// prepareUser validates in and returns the row to insert plus the password hash.
func prepareUser(op string, pw password.Config, in CreateUserInput) (User, string, error) {
	username := strings.TrimSpace(in.Username)
	if err := ValidateUsername(username); err != nil {
		return User{}, "", err
	}
	if in.Password == "" {
		return User{}, "", invalid(op, "password is required")
	}

	hash, err := pw.Hash(in.Password)
	if err != nil {
		return User{}, "", fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := NewULID(now)
	if err != nil {
		return User{}, "", err
	}

	return User{
		ID:           id,
		Username:     username,
		UsernameNorm: NormalizeUsername(username),
		CreatedAt:    now,
	}, hash, nil
}
