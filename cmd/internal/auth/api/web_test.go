package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionTokenFrom(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}
	tok := uuid.New()
	other := uuid.New()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer "+tok.String())
	r.AddCookie(&http.Cookie{Name: "X-Session-Token", Value: other.String()})
	if got, ok := h.sessionTokenFrom(r); !ok || got != tok {
		t.Fatalf("bearer must win over cookie: %v %v", got, ok)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "X-Session-Token", Value: other.String()})
	if got, ok := h.sessionTokenFrom(r); !ok || got != other {
		t.Fatalf("cookie fallback: %v %v", got, ok)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Token "+tok.String())
	r.AddCookie(&http.Cookie{Name: "X-Session-Token", Value: other.String()})
	if _, ok := h.sessionTokenFrom(r); ok {
		t.Fatalf("a non-bearer Authorization header must not fall back to cookies")
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+uuid.Nil.String())
	if _, ok := h.sessionTokenFrom(r); ok {
		t.Fatalf("nil uuid accepted")
	}
}

func TestSetTokenCookie(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CookieDomain = "example.test"
	h := &Handler{cfg: cfg}

	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tok := uuid.New()
	rr := httptest.NewRecorder()
	h.setTokenCookie(rr, cfg.RefreshCookieName, tok, exp)

	cs := rr.Result().Cookies()
	if len(cs) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cs))
	}
	c := cs[0]
	if c.Name != "X-Refresh-Token" || c.Value != tok.String() || c.Domain != "example.test" {
		t.Fatalf("unexpected cookie %+v", c)
	}
	if !c.Expires.Equal(exp) {
		t.Fatalf("expires %s want %s", c.Expires, exp)
	}
}
