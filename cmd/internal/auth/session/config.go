package session

import (
	"fmt"
	"time"
)

// Config holds the session protocol policy.
type Config struct {
	// SessionTTL is the lifetime of a session token.
	SessionTTL time.Duration

	// RefreshTTL is the lifetime of each refresh token, counted from its issuance.
	RefreshTTL time.Duration

	// RotateSessionToken issues a replacement session token on every
	// successful refresh. When false only the refresh token rotates and the
	// session keeps its original expiry.
	RotateSessionToken bool

	// BindIPv4Bits / BindIPv6Bits set the granularity of address binding.
	// 32 / 128 bind to the exact host.
	BindIPv4Bits int
	BindIPv6Bits int
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:         15 * time.Minute,
		RefreshTTL:         7 * 24 * time.Hour,
		RotateSessionToken: true,
		BindIPv4Bits:       32,
		BindIPv6Bits:       128,
	}
}

// Validate returns an error wrapping ErrConfig when c is unusable.
func (c Config) Validate() error {
	switch {
	case c.SessionTTL <= 0:
		return fmt.Errorf("%w: session ttl must be positive", ErrConfig)
	case c.RefreshTTL <= 0:
		return fmt.Errorf("%w: refresh ttl must be positive", ErrConfig)
	case c.RefreshTTL < c.SessionTTL:
		return fmt.Errorf("%w: refresh ttl (%s) shorter than session ttl (%s)", ErrConfig, c.RefreshTTL, c.SessionTTL)
	case c.BindIPv4Bits < 8 || c.BindIPv4Bits > 32:
		return fmt.Errorf("%w: ipv4 bind bits %d outside [8..32]", ErrConfig, c.BindIPv4Bits)
	case c.BindIPv6Bits < 16 || c.BindIPv6Bits > 128:
		return fmt.Errorf("%w: ipv6 bind bits %d outside [16..128]", ErrConfig, c.BindIPv6Bits)
	}
	return nil
}
