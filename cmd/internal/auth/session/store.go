package session

import (
	"context"
	"net/netip"
	"time"
)

// LoginRecord is what Service hands a CredentialStore on login.
// Token fields are digests; plaintext tokens never reach a store.
type LoginRecord struct {
	Username string
	Password string

	SessionHash      string
	SessionExpiresAt time.Time
	RefreshHash      string
	RefreshExpiresAt time.Time

	// Bound is the caller's address already masked to the bind granularity.
	Bound netip.Prefix
	Now   time.Time
}

// RotateRecord describes one compare-and-swap on a session's refresh token.
type RotateRecord struct {
	SessionHash string
	RefreshHash string
	Client      netip.Prefix
	Now         time.Time

	NewRefreshHash      string
	NewRefreshExpiresAt time.Time

	// NewSessionHash is empty when the session token is not rotated.
	NewSessionHash      string
	NewSessionExpiresAt time.Time
}

// Session is the stored state a session token resolves to.
type Session struct {
	ID     string
	UserID string
	Bound  netip.Prefix

	CreatedAt time.Time
	ExpiresAt time.Time

	// RefreshExpiresAt is the expiry of the session's live refresh token
	// (zero when none is live).
	RefreshExpiresAt time.Time

	RotatedAt  *time.Time
	ReplacedBy string
	RevokedAt  *time.Time
}

// CredentialStore verifies a credential and opens a session.
//
// Login must persist the session and its first refresh token atomically and
// return ErrUserNotFound or ErrPasswordMismatch for a failed credential.
type CredentialStore interface {
	Login(ctx context.Context, rec LoginRecord) (userID string, err error)
}

// SessionStore holds session and refresh-token state.
type SessionStore interface {
	// RotateRefresh validates, consumes and replaces the session's refresh
	// token as one atomic step. Of two concurrent calls presenting the same
	// refresh token at most one succeeds. A failed call changes nothing.
	// The returned Session is the one named by the (new) session token.
	RotateRefresh(ctx context.Context, rec RotateRecord) (Session, error)

	// LookupSession returns ErrSessionNotFound for an unknown digest.
	LookupSession(ctx context.Context, sessionHash string) (Session, error)
}

type Store interface {
	CredentialStore
	SessionStore
}
