package session

import (
	"context"
	"fmt"

	"gatekeep/cmd/identity"
	"gatekeep/cmd/security/password"
)

// CredentialReader is the identity lookup stores verify logins against.
type CredentialReader interface {
	CredentialsByUsername(ctx context.Context, username string) (identity.Credentials, error)
}

// verifier checks a username / password pair. An unknown user still costs
// one Argon2id verification against a dummy hash.
type verifier struct {
	users CredentialReader
	pw    password.Config
	dummy string
}

func newVerifier(users CredentialReader, pw password.Config) (verifier, error) {
	if users == nil {
		return verifier{}, fmt.Errorf("session: nil credential reader")
	}
	dummy, err := pw.DummyHash()
	if err != nil {
		return verifier{}, err
	}
	return verifier{users: users, pw: pw, dummy: dummy}, nil
}

func (v verifier) verify(ctx context.Context, username, pw string) (string, error) {
	creds, err := v.users.CredentialsByUsername(ctx, username)
	if identity.IsNotFound(err) {
		_, _ = v.pw.Verify(v.dummy, pw)
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}

	ok, err := v.pw.Verify(creds.PasswordHash, pw)
	if err != nil {
		return "", fmt.Errorf("verify stored hash for user %s: %w", creds.UserID, err)
	}
	if !ok {
		return "", ErrPasswordMismatch
	}
	return creds.UserID, nil
}
