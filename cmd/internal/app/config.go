package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	authapi "gatekeep/cmd/internal/auth/api"
	"gatekeep/cmd/internal/auth/session"
	"gatekeep/cmd/security/password"
	"gatekeep/cmd/security/token"

	"github.com/spf13/viper"
)

// Config contains all runtime configuration. Values come from an optional
// .env file in the working directory, overridden by the environment.
type Config struct {
	HTTPAddr  string `mapstructure:"GATEKEEP_HTTP_ADDR"`
	LogLevel  string `mapstructure:"GATEKEEP_LOG_LEVEL"`
	LogFormat string `mapstructure:"GATEKEEP_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `mapstructure:"GATEKEEP_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"GATEKEEP_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"GATEKEEP_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"GATEKEEP_HTTP_IDLE_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"GATEKEEP_HTTP_MAX_HEADER_BYTES"`

	DatabaseURL      string        `mapstructure:"GATEKEEP_DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"GATEKEEP_DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"GATEKEEP_DB_MIN_CONNS"`
	DBAcquireTimeout time.Duration `mapstructure:"GATEKEEP_DB_ACQUIRE_TIMEOUT"`
	MigrateOnStart   bool          `mapstructure:"GATEKEEP_DB_MIGRATE_ON_START"`

	RedisURL    string `mapstructure:"GATEKEEP_REDIS_URL"`
	RedisPrefix string `mapstructure:"GATEKEEP_REDIS_PREFIX"`

	// If true, /readyz returns 503 unless Postgres or Redis is configured and reachable.
	ReadinessRequireStore bool `mapstructure:"GATEKEEP_READINESS_REQUIRE_STORE"`

	// If true, GATEKEEP_TOKEN_HMAC_KEY MUST be set (>= 32 bytes).
	RequireTokenHMAC bool `mapstructure:"GATEKEEP_REQUIRE_TOKEN_HMAC"`

	SessionTTL         time.Duration `mapstructure:"GATEKEEP_AUTH_SESSION_TTL"`
	RefreshTTL         time.Duration `mapstructure:"GATEKEEP_AUTH_REFRESH_TTL"`
	RotateSessionToken bool          `mapstructure:"GATEKEEP_AUTH_ROTATE_SESSION_TOKEN"`
	BindIPv4Bits       int           `mapstructure:"GATEKEEP_AUTH_BIND_IPV4_BITS"`
	BindIPv6Bits       int           `mapstructure:"GATEKEEP_AUTH_BIND_IPV6_BITS"`

	// Comma-separated CIDRs or addresses allowed to send Forwarded.
	TrustedProxies    string        `mapstructure:"GATEKEEP_AUTH_TRUSTED_PROXIES"`
	MaxBodyBytes      int64         `mapstructure:"GATEKEEP_AUTH_MAX_BODY_BYTES"`
	LoginMaxPerWindow int           `mapstructure:"GATEKEEP_AUTH_LOGIN_MAX_PER_WINDOW"`
	LoginWindow       time.Duration `mapstructure:"GATEKEEP_AUTH_LOGIN_WINDOW"`
	CookieSecure      bool          `mapstructure:"GATEKEEP_AUTH_COOKIE_SECURE"`
	CookieDomain      string        `mapstructure:"GATEKEEP_AUTH_COOKIE_DOMAIN"`
	CookieSameSite    string        `mapstructure:"GATEKEEP_AUTH_COOKIE_SAMESITE"`

	// Derived from the same sources; these packages own their key names.
	Password password.Config `mapstructure:"-"`
	Hasher   token.Hasher    `mapstructure:"-"`
}

// minHMACKeyBytes is the shortest accepted token HMAC key.
const minHMACKeyBytes = 32

// LoadConfig reads .env (if present) and the environment.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()
	return loadConfig(v)
}

func loadConfig(v *viper.Viper) (Config, error) {
	sess := session.DefaultConfig()
	auth := authapi.DefaultConfig()

	v.SetDefault("GATEKEEP_HTTP_ADDR", "0.0.0.0:8000")
	v.SetDefault("GATEKEEP_LOG_LEVEL", "info")
	v.SetDefault("GATEKEEP_LOG_FORMAT", "json")
	v.SetDefault("GATEKEEP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	v.SetDefault("GATEKEEP_HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("GATEKEEP_HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("GATEKEEP_HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GATEKEEP_HTTP_MAX_HEADER_BYTES", 1<<20)

	v.SetDefault("GATEKEEP_DATABASE_URL", "")
	v.SetDefault("GATEKEEP_DB_MAX_CONNS", 10)
	v.SetDefault("GATEKEEP_DB_MIN_CONNS", 0)
	v.SetDefault("GATEKEEP_DB_ACQUIRE_TIMEOUT", 3*time.Second)
	v.SetDefault("GATEKEEP_DB_MIGRATE_ON_START", false)
	v.SetDefault("GATEKEEP_REDIS_URL", "")
	v.SetDefault("GATEKEEP_REDIS_PREFIX", "gatekeep")
	v.SetDefault("GATEKEEP_READINESS_REQUIRE_STORE", false)
	v.SetDefault("GATEKEEP_REQUIRE_TOKEN_HMAC", false)

	v.SetDefault("GATEKEEP_AUTH_SESSION_TTL", sess.SessionTTL)
	v.SetDefault("GATEKEEP_AUTH_REFRESH_TTL", sess.RefreshTTL)
	v.SetDefault("GATEKEEP_AUTH_ROTATE_SESSION_TOKEN", sess.RotateSessionToken)
	v.SetDefault("GATEKEEP_AUTH_BIND_IPV4_BITS", sess.BindIPv4Bits)
	v.SetDefault("GATEKEEP_AUTH_BIND_IPV6_BITS", sess.BindIPv6Bits)

	v.SetDefault("GATEKEEP_AUTH_TRUSTED_PROXIES", "")
	v.SetDefault("GATEKEEP_AUTH_MAX_BODY_BYTES", auth.MaxBodyBytes)
	v.SetDefault("GATEKEEP_AUTH_LOGIN_MAX_PER_WINDOW", auth.LoginMaxPerWindow)
	v.SetDefault("GATEKEEP_AUTH_LOGIN_WINDOW", auth.LoginWindow)
	v.SetDefault("GATEKEEP_AUTH_COOKIE_SECURE", auth.CookieSecure)
	v.SetDefault("GATEKEEP_AUTH_COOKIE_DOMAIN", "")
	v.SetDefault("GATEKEEP_AUTH_COOKIE_SAMESITE", "strict")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return Config{}, errors.New("config: GATEKEEP_HTTP_ADDR must be set")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, errors.New("config: GATEKEEP_DB_MIN_CONNS exceeds GATEKEEP_DB_MAX_CONNS")
	}
	if err := cfg.Session().Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.Auth(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	lookup := viperLookup(v)

	pw, err := password.FromLookup(password.LookupFunc(lookup))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Password = pw

	h, err := tokenHasher(cfg.RequireTokenHMAC, token.LookupFunc(lookup))
	if err != nil {
		return Config{}, err
	}
	cfg.Hasher = h

	return cfg, nil
}

// Session returns the session protocol policy.
func (c Config) Session() session.Config {
	return session.Config{
		SessionTTL:         c.SessionTTL,
		RefreshTTL:         c.RefreshTTL,
		RotateSessionToken: c.RotateSessionToken,
		BindIPv4Bits:       c.BindIPv4Bits,
		BindIPv6Bits:       c.BindIPv6Bits,
	}
}

// Auth returns the validated HTTP transport config.
func (c Config) Auth() (authapi.Config, error) {
	out := authapi.DefaultConfig()
	proxies, err := authapi.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return authapi.Config{}, err
	}
	out.TrustedProxies = proxies
	out.MaxBodyBytes = c.MaxBodyBytes
	out.LoginMaxPerWindow = c.LoginMaxPerWindow
	out.LoginWindow = c.LoginWindow
	out.CookieSecure = c.CookieSecure
	out.CookieDomain = strings.TrimSpace(c.CookieDomain)

	ss, err := authapi.ParseSameSite(c.CookieSameSite)
	if err != nil {
		return authapi.Config{}, err
	}
	out.CookieSameSite = ss

	if err := out.Validate(); err != nil {
		return authapi.Config{}, err
	}
	return out, nil
}

// viperLookup exposes v to packages that read their own keys. Those keys get
// no viper default so the owning package keeps its own.
func viperLookup(v *viper.Viper) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if !v.IsSet(key) {
			return "", false
		}
		return v.GetString(key), true
	}
}
