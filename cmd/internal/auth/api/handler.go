package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"gatekeep/cmd/internal/auth/session"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const msgSuccess = "Success!"

// Handler exposes the session protocol over HTTP.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	throttle *loginThrottle
	metrics  *Metrics
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now for throttling (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler. A nil sessions service makes every
// endpoint answer 503.
func NewHandler(log *slog.Logger, sessions *session.Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		throttle: newLoginThrottle(cfg.LoginMaxPerWindow, cfg.LoginWindow),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/api/auth/session", h.handleSession)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodPost) {
		return
	}

	client, ok := h.client(w, r)
	if !ok {
		h.metrics.login(resultRejected)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.metrics.login(resultRejected)
		writeStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Throttle on the bound network, not the raw host.
	key := client.String()
	if bound, err := h.sessions.Config().Bind(client); err == nil {
		key = bound.String()
	}
	now := h.now()
	if blocked, retry := h.throttle.check(key, now); blocked {
		h.log.Info("auth.login.throttled", "bound", key, "retry_after", retry.String())
		h.metrics.login(resultThrottled)
		writeRateLimited(w, retry)
		return
	}

	res, err := h.sessions.Login(r.Context(), req.Username, req.Password, client)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.throttle.fail(key, now)
		}
		h.metrics.login(resultFor(err))
		h.writeServiceError(w, err)
		return
	}
	h.throttle.reset(key)
	h.metrics.login(resultSuccess)

	// The session cookie outlives the session token: an expired token still
	// names its session for refresh.
	h.setTokenCookie(w, h.cfg.SessionCookieName, res.SessionToken, res.RefreshExpiresAt)
	h.setTokenCookie(w, h.cfg.RefreshCookieName, res.RefreshToken, res.RefreshExpiresAt)
	writeStatus(w, http.StatusOK, msgSuccess)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodPost) {
		return
	}

	client, ok := h.client(w, r)
	if !ok {
		h.metrics.refresh(resultRejected)
		return
	}

	sessTok, ok := h.sessionTokenFrom(r)
	if !ok {
		h.metrics.refresh(resultRejected)
		writeStatus(w, http.StatusBadRequest, "session token is required")
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			h.metrics.refresh(resultRejected)
			writeStatus(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	var refreshTok uuid.UUID
	if strings.TrimSpace(req.RefreshToken) != "" {
		refreshTok, ok = parseToken(req.RefreshToken)
	} else {
		refreshTok, ok = h.cookieToken(r, h.cfg.RefreshCookieName)
	}
	if !ok {
		h.metrics.refresh(resultRejected)
		writeStatus(w, http.StatusBadRequest, "refresh token is required")
		return
	}

	res, err := h.sessions.Rotate(r.Context(), sessTok, refreshTok, client)
	if err != nil {
		h.metrics.refresh(resultFor(err))
		h.writeServiceError(w, err)
		return
	}
	h.metrics.refresh(resultSuccess)

	if res.SessionRotated {
		h.setTokenCookie(w, h.cfg.SessionCookieName, res.SessionToken, res.RefreshExpiresAt)
	}
	h.setTokenCookie(w, h.cfg.RefreshCookieName, res.RefreshToken, res.RefreshExpiresAt)
	writeStatus(w, http.StatusOK, msgSuccess)
}

type sessionCtxKey struct{}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}
	sess, ok := h.validate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		statusResponse: statusResponse{Status: http.StatusOK, Message: "Session active."},
		UserID:         sess.UserID,
		ExpiresAt:      sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// RequireSession rejects requests without an active session bound to the
// caller and exposes the session to next via SessionFromContext.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.sessions == nil {
			writeStatus(w, http.StatusServiceUnavailable, "session store not configured")
			return
		}
		sess, ok := h.validate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey{}, sess)))
	})
}

// SessionFromContext returns the session attached by RequireSession.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(session.Session)
	return s, ok
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	client, ok := h.client(w, r)
	if !ok {
		h.metrics.validate(resultRejected)
		return session.Session{}, false
	}
	tok, ok := h.sessionTokenFrom(r)
	if !ok {
		h.metrics.validate(resultRejected)
		writeStatus(w, http.StatusBadRequest, "session token is required")
		return session.Session{}, false
	}

	sess, err := h.sessions.Validate(r.Context(), tok, client)
	if err != nil {
		h.metrics.validate(resultFor(err))
		h.writeServiceError(w, err)
		return session.Session{}, false
	}
	h.metrics.validate(resultSuccess)
	return sess, true
}

// allow enforces the method and that a session store is configured.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if h.sessions == nil {
		writeStatus(w, http.StatusServiceUnavailable, "session store not configured")
		return false
	}
	return true
}

func (h *Handler) client(w http.ResponseWriter, r *http.Request) (netip.Prefix, bool) {
	p, err := h.clientPrefix(r)
	if err != nil {
		h.log.Debug("auth.forwarded.reject", "err", err)
		writeStatus(w, http.StatusBadRequest, err.Error())
		return netip.Prefix{}, false
	}
	return p, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var ve session.ValidationError
	switch {
	case errors.As(err, &ve):
		writeStatus(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, session.ErrInvalidCredentials):
		writeStatus(w, http.StatusUnauthorized, session.ErrInvalidCredentials.Error())
	case errors.Is(err, session.ErrInvalidRefresh):
		writeStatus(w, http.StatusUnauthorized, session.ErrInvalidRefresh.Error())
	case errors.Is(err, session.ErrInvalidSession):
		writeStatus(w, http.StatusUnauthorized, session.ErrInvalidSession.Error())
	default:
		id := session.CorrelationID(err)
		if id == "" {
			id = ulid.Make().String()
			h.log.Error("auth.http.fail", "correlation_id", id, "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, statusResponse{
			Status:        http.StatusInternalServerError,
			Message:       session.ErrInternal.Error(),
			CorrelationID: id,
		})
	}
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, session.ErrValidation):
		return resultRejected
	case errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrInvalidRefresh),
		errors.Is(err, session.ErrInvalidSession):
		return resultInvalid
	default:
		return resultError
	}
}
