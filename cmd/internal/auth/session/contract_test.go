package session

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// runServiceContract exercises the login / refresh protocol end to end over
// the store built by mk. Every backend must pass it unchanged.
func runServiceContract(t *testing.T, mk storeFactory) {
	t.Run("Scenarios_RefreshOnlyRotation", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RotateSessionToken = false
		f := newFixture(t, cfg, mk)
		ctx := context.Background()

		// A
		first := f.login(t)
		s1, r1 := first.SessionToken, first.RefreshToken

		// B
		b, err := f.svc.Rotate(ctx, s1, r1, homeIP)
		if err != nil {
			t.Fatalf("B: Rotate: %v", err)
		}
		if b.RefreshToken == r1 || b.RefreshToken == uuid.Nil {
			t.Fatalf("B: expected a fresh refresh token")
		}
		if b.SessionRotated || b.SessionToken != uuid.Nil {
			t.Fatalf("B: session token must not rotate under this policy")
		}
		if !b.SessionExpiresAt.Equal(first.SessionExpiresAt) {
			t.Fatalf("B: session expiry changed: %s -> %s", first.SessionExpiresAt, b.SessionExpiresAt)
		}
		if b.UserID != first.UserID {
			t.Fatalf("B: user id %q want %q", b.UserID, first.UserID)
		}
		r2 := b.RefreshToken

		// C: replay of the consumed token.
		if _, err := f.svc.Rotate(ctx, s1, r1, homeIP); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("C: expected ErrInvalidRefresh, got %v", err)
		}

		// D: correct live token from the wrong network.
		if _, err := f.svc.Rotate(ctx, s1, r2, otherIP); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("D: expected ErrInvalidRefresh, got %v", err)
		}

		// Failed attempts left the live token untouched.
		if _, err := f.svc.Rotate(ctx, s1, r2, homeIP); err != nil {
			t.Fatalf("Rotate after failed attempts: %v", err)
		}

		// E
		if _, err := f.svc.Login(ctx, testUser, "wrong-password", homeIP); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("E: expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("Scenarios_SessionTokenRotation", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), mk)
		ctx := context.Background()

		first := f.login(t)
		s1, r1 := first.SessionToken, first.RefreshToken

		b, err := f.svc.Rotate(ctx, s1, r1, homeIP)
		if err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		if !b.SessionRotated || b.SessionToken == s1 || b.SessionToken == uuid.Nil {
			t.Fatalf("expected a fresh session token, got %+v", b)
		}
		s2, r2 := b.SessionToken, b.RefreshToken

		if _, err := f.svc.Rotate(ctx, s1, r1, homeIP); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("replay via old session: expected ErrInvalidRefresh, got %v", err)
		}
		if _, err := f.svc.Rotate(ctx, s2, r1, homeIP); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("replay via new session: expected ErrInvalidRefresh, got %v", err)
		}
		if _, err := f.svc.Rotate(ctx, s1, r2, homeIP); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("superseded session token must not refresh: got %v", err)
		}
		if _, err := f.svc.Rotate(ctx, s2, r2, otherIP); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("wrong network: expected ErrInvalidRefresh, got %v", err)
		}

		c, err := f.svc.Rotate(ctx, s2, r2, homeIP)
		if err != nil {
			t.Fatalf("second Rotate: %v", err)
		}

		if _, err := f.svc.Validate(ctx, s1, homeIP); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("Validate(s1): expected ErrInvalidSession, got %v", err)
		}
		if _, err := f.svc.Validate(ctx, s2, homeIP); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("Validate(s2): expected ErrInvalidSession, got %v", err)
		}
		sess, err := f.svc.Validate(ctx, c.SessionToken, homeIP)
		if err != nil {
			t.Fatalf("Validate(s3): %v", err)
		}
		if sess.UserID != first.UserID {
			t.Fatalf("Validate(s3): user id %q want %q", sess.UserID, first.UserID)
		}
	})

	t.Run("LoginTwice_DistinctPairs", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), mk)
		ctx := context.Background()

		a := f.login(t)
		b := f.login(t)

		seen := map[uuid.UUID]bool{}
		for _, tok := range []uuid.UUID{a.SessionToken, a.RefreshToken, b.SessionToken, b.RefreshToken} {
			if seen[tok] {
				t.Fatalf("token issued twice: %s", tok)
			}
			seen[tok] = true
		}

		for i, res := range []LoginResult{a, b} {
			if _, err := f.svc.Validate(ctx, res.SessionToken, homeIP); err != nil {
				t.Fatalf("Validate(%d): %v", i, err)
			}
			if _, err := f.svc.Rotate(ctx, res.SessionToken, res.RefreshToken, homeIP); err != nil {
				t.Fatalf("Rotate(%d): %v", i, err)
			}
		}
	})

	t.Run("CredentialFailuresIndistinguishable", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), mk)
		ctx := context.Background()

		_, errUnknown := f.svc.Login(ctx, "mallory", testPassword, homeIP)
		_, errWrong := f.svc.Login(ctx, testUser, "not-the-password", homeIP)

		if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v / %v", errUnknown, errWrong)
		}
		if errUnknown.Error() != errWrong.Error() {
			t.Fatalf("messages differ: %q vs %q", errUnknown, errWrong)
		}
	})

	t.Run("ConcurrentRotation_SingleWinner", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), mk)
		first := f.login(t)

		const n = 16
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			success  int
			rejected int
			other    []error
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.svc.Rotate(context.Background(), first.SessionToken, first.RefreshToken, homeIP)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					success++
				case errors.Is(err, ErrInvalidRefresh):
					rejected++
				default:
					other = append(other, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if len(other) > 0 {
			t.Fatalf("unexpected errors: %v", other)
		}
		if success != 1 || rejected != n-1 {
			t.Fatalf("success=%d rejected=%d, want 1 and %d", success, rejected, n-1)
		}
	})

	t.Run("ExpiredSessionToken_StillNamesSession", func(t *testing.T) {
		cfg := DefaultConfig()
		f := newFixture(t, cfg, mk)
		ctx := context.Background()

		first := f.login(t)
		f.clock.Advance(cfg.SessionTTL + time.Second)

		if _, err := f.svc.Validate(ctx, first.SessionToken, homeIP); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("expired session must not validate: %v", err)
		}

		res, err := f.svc.Rotate(ctx, first.SessionToken, first.RefreshToken, homeIP)
		if err != nil {
			t.Fatalf("Rotate with expired session token: %v", err)
		}
		if !res.SessionExpiresAt.After(f.clock.Now()) {
			t.Fatalf("new session must expire in the future")
		}
		if _, err := f.svc.Validate(ctx, res.SessionToken, homeIP); err != nil {
			t.Fatalf("Validate(new): %v", err)
		}
	})

	t.Run("ExpiredRefreshToken", func(t *testing.T) {
		cfg := DefaultConfig()
		f := newFixture(t, cfg, mk)

		first := f.login(t)
		f.clock.Advance(cfg.RefreshTTL + time.Second)

		if _, err := f.svc.Rotate(context.Background(), first.SessionToken, first.RefreshToken, homeIP); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("expected ErrInvalidRefresh, got %v", err)
		}
	})

	t.Run("Validate_WrongNetwork", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), mk)
		first := f.login(t)

		if _, err := f.svc.Validate(context.Background(), first.SessionToken, otherIP); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("expected ErrInvalidSession, got %v", err)
		}
		if _, err := f.svc.Validate(context.Background(), uuid.New(), homeIP); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("unknown token: expected ErrInvalidSession, got %v", err)
		}
	})

	t.Run("BindGranularity_Subnet", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BindIPv4Bits = 24
		f := newFixture(t, cfg, mk)
		ctx := context.Background()

		first := f.login(t)
		sameNet := netip.MustParsePrefix("203.0.113.77/32")
		otherNet := netip.MustParsePrefix("203.0.114.5/32")

		if _, err := f.svc.Rotate(ctx, first.SessionToken, first.RefreshToken, otherNet); !errors.Is(err, ErrInvalidRefresh) {
			t.Fatalf("other /24 must be rejected, got %v", err)
		}
		res, err := f.svc.Rotate(ctx, first.SessionToken, first.RefreshToken, sameNet)
		if err != nil {
			t.Fatalf("same /24 must refresh: %v", err)
		}
		if _, err := f.svc.Validate(ctx, res.SessionToken, sameNet); err != nil {
			t.Fatalf("Validate from same /24: %v", err)
		}
	})
}
