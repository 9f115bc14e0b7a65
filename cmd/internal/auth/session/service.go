package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"gatekeep/cmd/security/token"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// maxCredentialBytes bounds username and password before any hashing work.
const maxCredentialBytes = 4096

// Service runs the login and refresh protocol over a Store.
// It keeps no per-session state of its own and is safe for concurrent use.
type Service struct {
	cfg    Config
	store  Store
	hasher token.Hasher
	log    *slog.Logger

	now      func() time.Time
	newToken func() (uuid.UUID, error)
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHasher selects the token digest. Stores must see the same hasher for
// the lifetime of their data.
func WithHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService validates cfg and returns a Service backed by store.
func NewService(cfg Config, store Store, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("session: nil store")
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		log:      slog.Default(),
		now:      time.Now,
		newToken: token.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Config returns the policy the Service was built with.
func (s *Service) Config() Config { return s.cfg }

// LoginResult carries freshly issued tokens. They exist in plaintext only here.
type LoginResult struct {
	UserID           string
	SessionToken     uuid.UUID
	SessionExpiresAt time.Time
	RefreshToken     uuid.UUID
	RefreshExpiresAt time.Time
}

// RotateResult is the outcome of a successful refresh. SessionToken is
// uuid.Nil unless SessionRotated.
type RotateResult struct {
	UserID           string
	SessionRotated   bool
	SessionToken     uuid.UUID
	SessionExpiresAt time.Time
	RefreshToken     uuid.UUID
	RefreshExpiresAt time.Time
}

// Login verifies username / password and opens a session bound to client.
//
// Unknown user and wrong password both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string, client netip.Prefix) (LoginResult, error) {
	const op = "session.Login"

	username = strings.TrimSpace(username)
	if username == "" {
		return LoginResult{}, ValidationError{Field: "username", Reason: "required"}
	}
	if password == "" {
		return LoginResult{}, ValidationError{Field: "password", Reason: "required"}
	}
	if len(username) > maxCredentialBytes || len(password) > maxCredentialBytes {
		return LoginResult{}, ValidationError{Reason: "credential too long"}
	}
	bound, err := s.cfg.Bind(client)
	if err != nil {
		return LoginResult{}, err
	}

	now := s.now().UTC()

	sessTok, err := s.newToken()
	if err != nil {
		return LoginResult{}, s.internal(op, "auth.login.fail", err)
	}
	refreshTok, err := s.newToken()
	if err != nil {
		return LoginResult{}, s.internal(op, "auth.login.fail", err)
	}

	rec := LoginRecord{
		Username:         username,
		Password:         password,
		SessionHash:      s.hash(sessTok),
		SessionExpiresAt: now.Add(s.cfg.SessionTTL),
		RefreshHash:      s.hash(refreshTok),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTTL),
		Bound:            bound,
		Now:              now,
	}

	userID, err := s.store.Login(ctx, rec)
	if err != nil {
		if isCredentialKind(err) {
			s.log.Info("auth.login.reject", "bound", bound.String())
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, s.internal(op, "auth.login.fail", err)
	}

	s.log.Info("auth.login.success", "user_id", userID, "bound", bound.String())

	return LoginResult{
		UserID:           userID,
		SessionToken:     sessTok,
		SessionExpiresAt: rec.SessionExpiresAt,
		RefreshToken:     refreshTok,
		RefreshExpiresAt: rec.RefreshExpiresAt,
	}, nil
}

// Rotate consumes refreshToken and issues its replacement.
//
// sessionToken only names the session; it may already be expired. A token
// that is wrong, already used, expired, or presented from another network all
// yield ErrInvalidRefresh, and a failed call changes no state.
func (s *Service) Rotate(ctx context.Context, sessionToken, refreshToken uuid.UUID, client netip.Prefix) (RotateResult, error) {
	const op = "session.Rotate"

	if sessionToken == uuid.Nil {
		return RotateResult{}, ValidationError{Field: "session_token", Reason: "required"}
	}
	if refreshToken == uuid.Nil {
		return RotateResult{}, ValidationError{Field: "refresh_token", Reason: "required"}
	}
	bound, err := s.cfg.Bind(client)
	if err != nil {
		return RotateResult{}, err
	}

	now := s.now().UTC()

	newRefresh, err := s.newToken()
	if err != nil {
		return RotateResult{}, s.internal(op, "auth.refresh.fail", err)
	}

	rec := RotateRecord{
		SessionHash:         s.hash(sessionToken),
		RefreshHash:         s.hash(refreshToken),
		Client:              bound,
		Now:                 now,
		NewRefreshHash:      s.hash(newRefresh),
		NewRefreshExpiresAt: now.Add(s.cfg.RefreshTTL),
	}

	var newSession uuid.UUID
	if s.cfg.RotateSessionToken {
		newSession, err = s.newToken()
		if err != nil {
			return RotateResult{}, s.internal(op, "auth.refresh.fail", err)
		}
		rec.NewSessionHash = s.hash(newSession)
		rec.NewSessionExpiresAt = now.Add(s.cfg.SessionTTL)
	}

	sess, err := s.store.RotateRefresh(ctx, rec)
	if err != nil {
		if isRefreshKind(err) {
			s.log.Info("auth.refresh.reject", "reason", err.Error(), "bound", bound.String())
			return RotateResult{}, ErrInvalidRefresh
		}
		return RotateResult{}, s.internal(op, "auth.refresh.fail", err)
	}

	s.log.Info("auth.refresh.success",
		"user_id", sess.UserID,
		"session_id", sess.ID,
		"session_rotated", s.cfg.RotateSessionToken,
	)

	return RotateResult{
		UserID:           sess.UserID,
		SessionRotated:   s.cfg.RotateSessionToken,
		SessionToken:     newSession,
		SessionExpiresAt: sess.ExpiresAt,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: rec.NewRefreshExpiresAt,
	}, nil
}

// Validate reports whether sessionToken names an active session bound to
// client's network. Any failure other than a store fault is ErrInvalidSession.
func (s *Service) Validate(ctx context.Context, sessionToken uuid.UUID, client netip.Prefix) (Session, error) {
	const op = "session.Validate"

	if sessionToken == uuid.Nil {
		return Session{}, ValidationError{Field: "session_token", Reason: "required"}
	}
	bound, err := s.cfg.Bind(client)
	if err != nil {
		return Session{}, err
	}

	sess, err := s.store.LookupSession(ctx, s.hash(sessionToken))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, ErrInvalidSession
		}
		return Session{}, s.internal(op, "auth.validate.fail", err)
	}

	if st := sess.StateAt(s.now().UTC()); st != StateActive {
		s.log.Debug("auth.validate.reject", "session_id", sess.ID, "state", st.String())
		return Session{}, ErrInvalidSession
	}
	if sess.Bound != bound {
		s.log.Info("auth.validate.reject", "session_id", sess.ID, "reason", ErrAddressMismatch.Error())
		return Session{}, ErrInvalidSession
	}
	return sess, nil
}

func (s *Service) hash(t uuid.UUID) string { return s.hasher.Hash(t.String()) }

func (s *Service) internal(op, event string, err error) error {
	id := ulid.Make().String()
	s.log.Error(event, "op", op, "correlation_id", id, "err", err)
	return &InternalError{Op: op, CorrelationID: id, Err: fmt.Errorf("%s: %w", op, err)}
}
