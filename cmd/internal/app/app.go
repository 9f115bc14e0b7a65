// Package app wires the gatekeep server runtime: config, logging, metrics,
// store selection and the HTTP server.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	authapi "gatekeep/cmd/internal/auth/api"
	"gatekeep/cmd/internal/auth/session"
	"gatekeep/cmd/identity"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Backend names the store selected at startup.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendMemory   Backend = "memory"
)

// Stores is the selected persistence: users and sessions always share a backend.
type Stores struct {
	Backend  Backend
	Users    identity.Store
	Sessions session.Store

	pool *pgxpool.Pool
	rdb  *redis.Client
}

// Ping checks the backing service. The memory backend is always ready.
func (s *Stores) Ping(ctx context.Context, timeout time.Duration) error {
	switch {
	case s.pool != nil:
		return PingDB(ctx, s.pool, timeout)
	case s.rdb != nil:
		return PingRedis(ctx, s.rdb, timeout)
	default:
		return nil
	}
}

// Close releases pools and clients owned by s.
func (s *Stores) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

// OpenStores selects Postgres when GATEKEEP_DATABASE_URL is set, else Redis
// when GATEKEEP_REDIS_URL is set, else the in-memory store.
func OpenStores(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		users, err := identity.NewPostgresStore(pool, cfg.Password)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sessions, err := session.NewPostgresStore(pool, users, cfg.Password)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("store.enabled", "backend", BackendPostgres)
		return &Stores{Backend: BackendPostgres, Users: users, Sessions: sessions, pool: pool}, nil

	case cfg.RedisURL != "":
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		users, err := identity.NewRedisStore(rdb, cfg.Password, cfg.RedisPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		sessions, err := session.NewRedisStore(rdb, users, cfg.Password, cfg.RedisPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		log.Info("store.enabled", "backend", BackendRedis)
		return &Stores{Backend: BackendRedis, Users: users, Sessions: sessions, rdb: rdb}, nil

	default:
		users := identity.NewMemoryStore(cfg.Password)
		sessions, err := session.NewMemoryStore(users, cfg.Password)
		if err != nil {
			return nil, err
		}
		log.Warn("store.enabled.inmemory", "backend", BackendMemory)
		return &Stores{Backend: BackendMemory, Users: users, Sessions: sessions}, nil
	}
}

// App is the gatekeep server runtime.
type App struct {
	cfg    Config
	log    Logger
	stores *Stores

	sessions *session.Service
	auth     *authapi.Handler
	registry *prometheus.Registry
	http     *httpMetrics
}

// New constructs a fully wired App over already opened stores.
func New(cfg Config, log Logger, stores *Stores) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if stores == nil {
		return nil, errors.New("app: stores are required")
	}

	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}
	httpM, err := newHTTPMetrics(reg)
	if err != nil {
		return nil, err
	}
	authM, err := authapi.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	svc, err := session.NewService(cfg.Session(), stores.Sessions,
		session.WithLogger(log),
		session.WithHasher(cfg.Hasher),
	)
	if err != nil {
		return nil, err
	}

	authCfg, err := cfg.Auth()
	if err != nil {
		return nil, err
	}
	h, err := authapi.NewHandler(log, svc, authCfg, authapi.WithMetrics(authM))
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		stores:   stores,
		sessions: svc,
		auth:     h,
		registry: reg,
		http:     httpM,
	}, nil
}

// Handler returns the full middleware-wrapped route tree.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log, a.http)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"backend", a.stores.Backend,
		"token_hmac", a.cfg.Hasher.HMAC(),
		"rotate_session_token", a.cfg.RotateSessionToken,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
