package identity

import (
	"context"
	"sync"

	"gatekeep/cmd/security/password"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	pw password.Config

	mu    sync.RWMutex
	users map[string]memUser // by username_norm
}

type memUser struct {
	user User
	hash string
}

func NewMemoryStore(pw password.Config) *MemoryStore {
	return &MemoryStore{pw: pw, users: make(map[string]memUser)}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	u, hash, err := prepareUser(op, s.pw, in)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.UsernameNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "username"}
	}
	s.users[u.UsernameNorm] = memUser{user: u, hash: hash}
	return u, nil
}

func (s *MemoryStore) CredentialsByUsername(ctx context.Context, username string) (Credentials, error) {
	const op = "identity.CredentialsByUsername"

	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mu, ok := s.users[NormalizeUsername(username)]
	if !ok {
		return Credentials{}, notFound(op)
	}
	return Credentials{UserID: mu.user.ID, PasswordHash: mu.hash}, nil
}
