package session

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"gatekeep/cmd/identity"
	"gatekeep/cmd/security/password"
	"gatekeep/cmd/security/token"
)

const (
	testUser     = "alice"
	testPassword = "correct-horse-battery"
)

var (
	homeIP  = netip.MustParsePrefix("203.0.113.5/32")
	otherIP = netip.MustParsePrefix("198.51.100.9/32")
)

func testPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storeFactory builds a session store together with the identity store it
// verifies logins against.
type storeFactory func(t *testing.T) (identity.Store, Store)

func memoryFactory(t *testing.T) (identity.Store, Store) {
	t.Helper()
	users := identity.NewMemoryStore(testPasswordConfig())
	st, err := NewMemoryStore(users, testPasswordConfig())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	return users, st
}

type fixture struct {
	svc   *Service
	store Store
	clock *fakeClock
}

// newFixture provisions alice through the identity store built by mk and
// wires a Service over its session store.
func newFixture(t *testing.T, cfg Config, mk storeFactory) fixture {
	t.Helper()

	clock := newFakeClock()
	users, st := mk(t)
	if _, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Username: testUser,
		Password: testPassword,
		Now:      clock.Now(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	svc, err := NewService(cfg, st,
		WithLogger(discardLogger()),
		WithClock(clock.Now),
		WithHasher(token.NewHasher([]byte("test-hmac-key-0123456789abcdef01"))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return fixture{svc: svc, store: st, clock: clock}
}

func (f fixture) login(t *testing.T) LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), testUser, testPassword, homeIP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

var zeroPrefix netip.Prefix
