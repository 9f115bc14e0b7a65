package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// ErrConfig is returned for invalid transport configuration.
var ErrConfig = errors.New("authapi: invalid config")

// Config controls the HTTP transport of the auth protocol.
type Config struct {
	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64

	// TrustedProxies are the peers allowed to name the client with a
	// Forwarded header. Empty means no proxy: the socket peer is the client.
	TrustedProxies []netip.Prefix

	// LoginMaxPerWindow failed logins per bound prefix within LoginWindow
	// before 429. Zero disables throttling.
	LoginMaxPerWindow int
	LoginWindow       time.Duration

	SessionCookieName string
	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20, // 1 MiB
		LoginMaxPerWindow: 0,
		LoginWindow:       5 * time.Minute,
		SessionCookieName: "X-Session-Token",
		RefreshCookieName: "X-Refresh-Token",
		CookiePath:        "/api/",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	case c.LoginMaxPerWindow < 0:
		return fmt.Errorf("%w: login max per window must not be negative", ErrConfig)
	case c.LoginMaxPerWindow > 0 && c.LoginWindow <= 0:
		return fmt.Errorf("%w: login window must be positive when throttling", ErrConfig)
	case strings.TrimSpace(c.SessionCookieName) == "" || strings.TrimSpace(c.RefreshCookieName) == "":
		return fmt.Errorf("%w: cookie names are required", ErrConfig)
	case c.SessionCookieName == c.RefreshCookieName:
		return fmt.Errorf("%w: session and refresh cookies must differ", ErrConfig)
	case !strings.HasPrefix(c.CookiePath, "/"):
		return fmt.Errorf("%w: cookie path must be absolute", ErrConfig)
	}
	for _, p := range c.TrustedProxies {
		if !p.IsValid() {
			return fmt.Errorf("%w: invalid trusted proxy prefix", ErrConfig)
		}
	}
	return nil
}

// ParseSameSite maps a config string to http.SameSite. Empty means strict.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("%w: unknown same-site mode %q", ErrConfig, s)
	}
}
