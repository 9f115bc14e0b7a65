package identity

import (
	"context"
	"time"
)

// User is gatekeep's security principal.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	CreatedAt    time.Time
}

// Credentials is what a login is verified against.
type Credentials struct {
	UserID       string
	PasswordHash string
}

// CreateUserInput provisions a user. Password is plaintext and hashed by the store.
type CreateUserInput struct {
	Username string
	Password string
	Now      time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	// CreateUser returns a ConflictError{Field: "username"} when the
	// normalized username is taken.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// CredentialsByUsername normalizes username and returns ErrNotFound
	// (wrapped) for an unknown user.
	CredentialsByUsername(ctx context.Context, username string) (Credentials, error)
}
