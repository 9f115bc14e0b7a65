package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gatekeep/cmd/security/password"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key gatekeep writes.
const DefaultRedisPrefix = "gatekeep"

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const createUserScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "username", ARGV[2], "password_hash", ARGV[3], "created_at", ARGV[4])
return 1
`

var createUserLua = redis.NewScript(createUserScript)

// RedisStore keeps one hash per user at <prefix>:user:<username_norm>.
type RedisStore struct {
	rdb    redis.UniversalClient
	pw     password.Config
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, pw password.Config, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("identity: nil redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, pw: pw, prefix: prefix}, nil
}

func (s *RedisStore) userKey(norm string) string {
	return s.prefix + ":user:" + norm
}

func (s *RedisStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	u, hash, err := prepareUser(op, s.pw, in)
	if err != nil {
		return User{}, err
	}

	created, err := createUserLua.Run(ctx, s.rdb,
		[]string{s.userKey(u.UsernameNorm)},
		u.ID, u.Username, hash, strconv.FormatInt(u.CreatedAt.UnixMilli(), 10),
	).Int64()
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if created == 0 {
		return User{}, ConflictError{Op: op, Field: "username"}
	}
	return u, nil
}

func (s *RedisStore) CredentialsByUsername(ctx context.Context, username string) (Credentials, error) {
	const op = "identity.CredentialsByUsername"

	vals, err := s.rdb.HMGet(ctx, s.userKey(NormalizeUsername(username)), "id", "password_hash").Result()
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	id, _ := vals[0].(string)
	hash, _ := vals[1].(string)
	if id == "" || hash == "" {
		return Credentials{}, notFound(op)
	}
	return Credentials{UserID: id, PasswordHash: hash}, nil
}
