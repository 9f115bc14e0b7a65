package session

import (
	"context"
	"errors"
	"testing"

	"gatekeep/cmd/identity"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

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

func redisFactory(mr **miniredis.Miniredis) storeFactory {
	return func(t *testing.T) (identity.Store, Store) {
		t.Helper()
		m, client := newTestRedis(t)
		if mr != nil {
			*mr = m
		}
		users, err := identity.NewRedisStore(client, testPasswordConfig(), "gk-test")
		if err != nil {
			t.Fatalf("identity.NewRedisStore: %v", err)
		}
		st, err := NewRedisStore(client, users, testPasswordConfig(), "gk-test")
		if err != nil {
			t.Fatalf("NewRedisStore: %v", err)
		}
		return users, st
	}
}

func TestService_Contract_Redis(t *testing.T) {
	runServiceContract(t, redisFactory(nil))
}

func TestRedisStore_KeyLayoutAndExpiry(t *testing.T) {
	var mr *miniredis.Miniredis
	f := newFixture(t, DefaultConfig(), redisFactory(&mr))
	first := f.login(t)

	key := "gk-test:sess:" + f.svc.hash(first.SessionToken)
	if !mr.Exists(key) {
		t.Fatalf("expected key %s, have %v", key, mr.Keys())
	}
	if got := mr.HGet(key, "bound"); got != homeIP.String() {
		t.Fatalf("bound = %q want %q", got, homeIP)
	}
	if got := mr.HGet(key, "refresh_hash"); got != f.svc.hash(first.RefreshToken) {
		t.Fatalf("refresh_hash = %q", got)
	}
	if mr.TTL(key) <= 0 {
		t.Fatalf("expected a ttl on %s", key)
	}
}

func TestRedisStore_ReplayReportsMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RotateSessionToken = false
	f := newFixture(t, cfg, redisFactory(nil))
	first := f.login(t)

	if _, err := f.svc.Rotate(context.Background(), first.SessionToken, first.RefreshToken, homeIP); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	_, err := f.store.RotateRefresh(context.Background(), RotateRecord{
		SessionHash:         f.svc.hash(first.SessionToken),
		RefreshHash:         f.svc.hash(first.RefreshToken),
		Client:              homeIP,
		Now:                 f.clock.Now(),
		NewRefreshHash:      "unused",
		NewRefreshExpiresAt: f.clock.Now().Add(cfg.RefreshTTL),
	})
	if !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("expected ErrRefreshMismatch, got %v", err)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	var mr *miniredis.Miniredis
	f := newFixture(t, DefaultConfig(), redisFactory(&mr))
	first := f.login(t)
	mr.Close()

	ctx := context.Background()
	if _, err := f.svc.Login(ctx, testUser, testPassword, homeIP); !errors.Is(err, ErrInternal) {
		t.Fatalf("Login: expected ErrInternal, got %v", err)
	}
	_, err := f.svc.Rotate(ctx, first.SessionToken, first.RefreshToken, homeIP)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Rotate: expected ErrInternal, got %v", err)
	}
	var ie *InternalError
	if !errors.As(err, &ie) || !errors.Is(ie.Cause(), ErrRedisUnavailable) {
		t.Fatalf("Rotate: expected ErrRedisUnavailable cause, got %v", err)
	}
	if _, err := f.svc.Validate(ctx, first.SessionToken, homeIP); !errors.Is(err, ErrInternal) {
		t.Fatalf("Validate: expected ErrInternal, got %v", err)
	}
}

func TestRedisStore_SessionRotationWritesBothKeys(t *testing.T) {
	var mr *miniredis.Miniredis
	f := newFixture(t, DefaultConfig(), redisFactory(&mr))
	first := f.login(t)

	rot, err := f.svc.Rotate(context.Background(), first.SessionToken, first.RefreshToken, homeIP)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	oldKey := "gk-test:sess:" + f.svc.hash(first.SessionToken)
	newKey := "gk-test:sess:" + f.svc.hash(rot.SessionToken)
	if !mr.Exists(newKey) {
		t.Fatalf("expected key %s, have %v", newKey, mr.Keys())
	}
	if got, want := mr.HGet(oldKey, "replaced_by"), mr.HGet(newKey, "id"); got == "" || got != want {
		t.Fatalf("replaced_by = %q want %q", got, want)
	}
	if mr.TTL(newKey) <= 0 {
		t.Fatalf("expected a ttl on %s", newKey)
	}
}

func TestNewRedisStore_NilClient(t *testing.T) {
	var rdb *redis.Client
	if _, err := NewRedisStore(rdb, nil, testPasswordConfig(), ""); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
