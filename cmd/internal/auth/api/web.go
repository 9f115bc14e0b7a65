package authapi

import (
	"net/http"
	"strings"
	"time"

	"gatekeep/cmd/security/token"

	"github.com/google/uuid"
)

func (h *Handler) setTokenCookie(w http.ResponseWriter, name string, tok uuid.UUID, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    tok.String(),
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

// sessionTokenFrom reads the bearer token, falling back to the session cookie.
func (h *Handler) sessionTokenFrom(r *http.Request) (uuid.UUID, bool) {
	if v, ok := bearerToken(r); ok {
		return parseToken(v)
	}
	return h.cookieToken(r, h.cfg.SessionCookieName)
}

func (h *Handler) cookieToken(r *http.Request, name string) (uuid.UUID, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return uuid.Nil, false
	}
	return parseToken(c.Value)
}

func bearerToken(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if v == "" {
		return "", false
	}
	scheme, rest, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		// Present but unusable: do not fall back to cookies.
		return "", true
	}
	return strings.TrimSpace(rest), true
}

func parseToken(s string) (uuid.UUID, bool) {
	u, err := token.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, false
	}
	return u, true
}
