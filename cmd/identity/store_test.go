package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeep/cmd/security/password"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.Policy.MinLength = 8
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// storeContract runs the behavior every Store implementation must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	pw := testPasswordConfig()

	u, err := s.CreateUser(ctx, CreateUserInput{Username: "  Alice ", Password: "correct-horse", Now: time.Now().UTC()})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Username != "Alice" || u.UsernameNorm != "alice" || len(u.ID) != 26 {
		t.Fatalf("unexpected user: %+v", u)
	}

	_, err = s.CreateUser(ctx, CreateUserInput{Username: "ALICE", Password: "another-password"})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	creds, err := s.CredentialsByUsername(ctx, "aLiCe")
	if err != nil {
		t.Fatalf("CredentialsByUsername: %v", err)
	}
	if creds.UserID != u.ID {
		t.Fatalf("user id=%q want %q", creds.UserID, u.ID)
	}
	ok, err := pw.Verify(creds.PasswordHash, "correct-horse")
	if err != nil || !ok {
		t.Fatalf("stored hash does not verify: ok=%v err=%v", ok, err)
	}

	if _, err := s.CredentialsByUsername(ctx, "bob"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := s.CreateUser(ctx, CreateUserInput{Username: "carol", Password: "short"}); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for short password, got %v", err)
	} else if !errors.Is(err, password.ErrPasswordTooShort) {
		t.Fatalf("expected password policy error in chain, got %v", err)
	}

	if _, err := s.CreateUser(ctx, CreateUserInput{Username: "a b", Password: "long-enough-pw"}); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for username with space, got %v", err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	storeContract(t, NewMemoryStore(testPasswordConfig()))
}

func TestRedisStore_Contract(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	s, err := NewRedisStore(rdb, testPasswordConfig(), "")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	storeContract(t, s)

	if !mr.Exists("gatekeep:user:alice") {
		t.Fatalf("expected user hash under default prefix")
	}
	if got := mr.HGet("gatekeep:user:alice", "password_hash"); got == "" || got == "correct-horse" {
		t.Fatalf("password must be stored hashed, got %q", got)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	s, err := NewRedisStore(rdb, testPasswordConfig(), "t")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	mr.Close()

	if _, err := s.CredentialsByUsername(context.Background(), "alice"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in string
		ok bool
	}{
		{"alice", true},
		{"ab", false},
		{"a\tb", false},
		{"名前です", true},
		{string(make([]byte, 65)), false},
	}
	for _, tc := range cases {
		err := ValidateUsername(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ValidateUsername(%q) err=%v want ok=%v", tc.in, err, tc.ok)
		}
	}
}
