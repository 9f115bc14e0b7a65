package session

import (
	"context"
	"sync"
	"time"

	"gatekeep/cmd/identity"
	"gatekeep/cmd/security/password"
	"gatekeep/cmd/security/token"
)

// sweepEvery bounds how often Login and RotateRefresh scan for dead entries.
const sweepEvery = time.Minute

// MemoryStore keeps sessions in process memory. It is the fallback when
// neither Postgres nor Redis is configured, and backs the package tests.
// Entries are dropped once nothing they hold can still be presented, the
// same lifetime the Redis store gives its keys.
type MemoryStore struct {
	v verifier

	mu        sync.Mutex
	sessions  map[string]*memSession // by session token hash
	lastSweep time.Time
}

type memSession struct {
	s Session

	refreshHash string               // live token; "" once consumed without replacement
	retain      time.Time            // entry is dead from here on
	consumed    map[string]time.Time // used refresh hashes of the chain, by their expiry
}

func NewMemoryStore(users CredentialReader, pw password.Config) (*MemoryStore, error) {
	v, err := newVerifier(users, pw)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{v: v, sessions: make(map[string]*memSession)}, nil
}

func (m *MemoryStore) Login(ctx context.Context, rec LoginRecord) (string, error) {
	userID, err := m.v.verify(ctx, rec.Username, rec.Password)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := identity.NewULID(rec.Now)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(rec.Now)
	m.sessions[rec.SessionHash] = &memSession{
		s: Session{
			ID:               id,
			UserID:           userID,
			Bound:            rec.Bound,
			CreatedAt:        rec.Now,
			ExpiresAt:        rec.SessionExpiresAt,
			RefreshExpiresAt: rec.RefreshExpiresAt,
		},
		refreshHash: rec.RefreshHash,
		retain:      later(rec.SessionExpiresAt, rec.RefreshExpiresAt),
		consumed:    make(map[string]time.Time),
	}
	return userID, nil
}

func (m *MemoryStore) RotateRefresh(ctx context.Context, rec RotateRecord) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(rec.Now)
	ms, ok := m.sessions[rec.SessionHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	switch {
	case ms.s.RevokedAt != nil:
		return Session{}, ErrSessionRevoked
	case ms.s.ReplacedBy != "":
		return Session{}, ErrSessionRotated
	case ms.s.Bound != rec.Client:
		return Session{}, ErrAddressMismatch
	}

	if !token.EqualHex(ms.refreshHash, rec.RefreshHash) {
		if _, used := ms.consumed[rec.RefreshHash]; used {
			return Session{}, ErrRefreshConsumed
		}
		return Session{}, ErrRefreshMismatch
	}
	if !ms.s.RefreshExpiresAt.After(rec.Now) {
		return Session{}, ErrRefreshExpired
	}

	now := rec.Now
	ms.consumed[ms.refreshHash] = ms.s.RefreshExpiresAt
	ms.s.RotatedAt = &now

	if rec.NewSessionHash == "" {
		ms.refreshHash = rec.NewRefreshHash
		ms.s.RefreshExpiresAt = rec.NewRefreshExpiresAt
		ms.retain = later(ms.s.ExpiresAt, rec.NewRefreshExpiresAt)
		return ms.s, nil
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return Session{}, err
	}
	next := &memSession{
		s: Session{
			ID:               id,
			UserID:           ms.s.UserID,
			Bound:            ms.s.Bound,
			CreatedAt:        now,
			ExpiresAt:        rec.NewSessionExpiresAt,
			RefreshExpiresAt: rec.NewRefreshExpiresAt,
		},
		refreshHash: rec.NewRefreshHash,
		retain:      later(rec.NewSessionExpiresAt, rec.NewRefreshExpiresAt),
		consumed:    ms.consumed,
	}
	ms.refreshHash = ""
	ms.s.ReplacedBy = id
	ms.s.RefreshExpiresAt = time.Time{}
	m.sessions[rec.NewSessionHash] = next
	return next.s, nil
}

func (m *MemoryStore) LookupSession(ctx context.Context, sessionHash string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[sessionHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return ms.s, nil
}

// Revoke marks the session named by sessionHash revoked. Logout is not
// exposed over HTTP, so only tests reach this today.
func (m *MemoryStore) Revoke(sessionHash string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[sessionHash]
	if !ok {
		return false
	}
	if ms.s.RevokedAt == nil {
		ms.s.RevokedAt = &now
	}
	return true
}

// sweepLocked drops sessions past their retention and forgets consumed
// refresh hashes that would have expired anyway. Callers hold m.mu.
func (m *MemoryStore) sweepLocked(now time.Time) {
	if !m.lastSweep.IsZero() && now.Sub(m.lastSweep) < sweepEvery {
		return
	}
	m.lastSweep = now

	for h, ms := range m.sessions {
		if !ms.retain.After(now) {
			delete(m.sessions, h)
			continue
		}
		for c, exp := range ms.consumed {
			if !exp.After(now) {
				delete(ms.consumed, c)
			}
		}
	}
}
