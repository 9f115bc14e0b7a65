package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"gatekeep/cmd/identity"
	"gatekeep/cmd/security/password"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	rotateStatusNotFound        int64 = 0
	rotateStatusRevoked         int64 = 1
	rotateStatusRotated         int64 = 2
	rotateStatusAddressMismatch int64 = 3
	rotateStatusMismatch        int64 = 4
	rotateStatusExpired         int64 = 5
	rotateStatusOK              int64 = 6
)

// KEYS[1] current session, KEYS[2] replacement session (unused unless ARGV[6] ~= "").
// ARGV: refresh_hash, client_bound, now_ms, new_refresh_hash, new_refresh_exp_ms,
// new_session_exp_ms, new_session_id, expire_at_ms.
const rotateRefreshScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return {0}
end

local f = redis.call("HMGET", key, "revoked_at", "replaced_by", "bound", "refresh_hash", "refresh_expires_at", "id", "user_id", "created_at", "expires_at")
if f[1] and f[1] ~= "" then
  return {1}
end
if f[2] and f[2] ~= "" then
  return {2}
end
if f[3] ~= ARGV[2] then
  return {3}
end
if not f[4] or f[4] == "" or f[4] ~= ARGV[1] then
  return {4}
end
local now = tonumber(ARGV[3])
if (tonumber(f[5]) or 0) <= now then
  return {5}
end

if ARGV[6] == "" then
  redis.call("HSET", key, "refresh_hash", ARGV[4], "refresh_expires_at", ARGV[5], "rotated_at", ARGV[3])
  redis.call("PEXPIREAT", key, ARGV[8])
  return {6, f[6], f[7], f[8], f[9]}
end

local nk = KEYS[2]
redis.call("HSET", nk,
  "id", ARGV[7], "user_id", f[7], "bound", f[3],
  "created_at", ARGV[3], "expires_at", ARGV[6],
  "refresh_hash", ARGV[4], "refresh_expires_at", ARGV[5])
redis.call("PEXPIREAT", nk, ARGV[8])
redis.call("HSET", key, "refresh_hash", "", "refresh_expires_at", "0", "rotated_at", ARGV[3], "replaced_by", ARGV[7])
return {6, ARGV[7], f[7], ARGV[3], ARGV[6]}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// RedisStore keeps each session as a hash at <prefix>:sess:<session token hash>
// that expires with the later of its session and refresh expiries.
//
// Only the live refresh digest is stored, so replaying a consumed token
// reports ErrRefreshMismatch rather than ErrRefreshConsumed.
//
// Rotation with a fresh session token writes two keys in one script, and
// the keys hash to unrelated slots, so the store takes a single-node client
// rather than a redis.UniversalClient that could be a cluster.
type RedisStore struct {
	rdb    *redis.Client
	v      verifier
	prefix string
}

func NewRedisStore(rdb *redis.Client, users CredentialReader, pw password.Config, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("session: nil redis client")
	}
	v, err := newVerifier(users, pw)
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = identity.DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, v: v, prefix: prefix}, nil
}

func (s *RedisStore) key(sessionHash string) string {
	return s.prefix + ":sess:" + sessionHash
}

func (s *RedisStore) Login(ctx context.Context, rec LoginRecord) (string, error) {
	userID, err := s.v.verify(ctx, rec.Username, rec.Password)
	if err != nil {
		return "", err
	}

	id, err := identity.NewULID(rec.Now)
	if err != nil {
		return "", err
	}

	key := s.key(rec.SessionHash)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", id,
			"user_id", userID,
			"bound", rec.Bound.String(),
			"created_at", ms(rec.Now),
			"expires_at", ms(rec.SessionExpiresAt),
			"refresh_hash", rec.RefreshHash,
			"refresh_expires_at", ms(rec.RefreshExpiresAt),
		)
		pipe.PExpireAt(ctx, key, later(rec.SessionExpiresAt, rec.RefreshExpiresAt))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return userID, nil
}

func (s *RedisStore) RotateRefresh(ctx context.Context, rec RotateRecord) (Session, error) {
	newKey := s.key(rec.SessionHash)
	expires := rec.NewRefreshExpiresAt
	var newID, newExp string
	if rec.NewSessionHash != "" {
		id, err := identity.NewULID(rec.Now)
		if err != nil {
			return Session{}, err
		}
		newKey, newID, newExp = s.key(rec.NewSessionHash), id, ms(rec.NewSessionExpiresAt)
		expires = later(rec.NewSessionExpiresAt, rec.NewRefreshExpiresAt)
	}

	res, err := rotateRefreshLua.Run(ctx, s.rdb,
		[]string{s.key(rec.SessionHash), newKey},
		rec.RefreshHash,
		rec.Client.String(),
		ms(rec.Now),
		rec.NewRefreshHash,
		ms(rec.NewRefreshExpiresAt),
		newExp,
		newID,
		ms(expires),
	).Slice()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return Session{}, fmt.Errorf("session: empty rotate reply")
	}

	code, _ := res[0].(int64)
	switch code {
	case rotateStatusNotFound:
		return Session{}, ErrSessionNotFound
	case rotateStatusRevoked:
		return Session{}, ErrSessionRevoked
	case rotateStatusRotated:
		return Session{}, ErrSessionRotated
	case rotateStatusAddressMismatch:
		return Session{}, ErrAddressMismatch
	case rotateStatusMismatch:
		return Session{}, ErrRefreshMismatch
	case rotateStatusExpired:
		return Session{}, ErrRefreshExpired
	case rotateStatusOK:
	default:
		return Session{}, fmt.Errorf("session: unexpected rotate status %d", code)
	}
	if len(res) != 5 {
		return Session{}, fmt.Errorf("session: malformed rotate reply")
	}

	out := Session{
		ID:               replyString(res[1]),
		UserID:           replyString(res[2]),
		Bound:            rec.Client,
		CreatedAt:        fromMS(replyString(res[3])),
		ExpiresAt:        fromMS(replyString(res[4])),
		RefreshExpiresAt: rec.NewRefreshExpiresAt,
	}
	if rec.NewSessionHash == "" {
		now := rec.Now
		out.RotatedAt = &now
	}
	return out, nil
}

func (s *RedisStore) LookupSession(ctx context.Context, sessionHash string) (Session, error) {
	h, err := s.rdb.HGetAll(ctx, s.key(sessionHash)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(h) == 0 {
		return Session{}, ErrSessionNotFound
	}

	bound, err := netip.ParsePrefix(h["bound"])
	if err != nil {
		return Session{}, fmt.Errorf("session: corrupt bound prefix: %w", err)
	}
	out := Session{
		ID:               h["id"],
		UserID:           h["user_id"],
		Bound:            bound,
		CreatedAt:        fromMS(h["created_at"]),
		ExpiresAt:        fromMS(h["expires_at"]),
		RefreshExpiresAt: fromMS(h["refresh_expires_at"]),
		ReplacedBy:       h["replaced_by"],
		RotatedAt:        optMS(h["rotated_at"]),
		RevokedAt:        optMS(h["revoked_at"]),
	}
	return out, nil
}

func replyString(v any) string {
	s, _ := v.(string)
	return s
}

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func fromMS(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func optMS(s string) *time.Time {
	t := fromMS(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
