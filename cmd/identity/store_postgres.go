package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gatekeep/cmd/security/password"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the Postgres schema created by the embedded migrations.
const DefaultSchema = "gatekeep"

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; the store never closes it.
// Schema identifiers are quoted via pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	pw     password.Config
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "gatekeep").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !PGIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, pw password.Config, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, pw: pw, schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreateUser inserts the user and its credential in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	u, hash, err := prepareUser(op, s.pw, in)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := PGIdent(s.schema, "users")
	creds := PGIdent(s.schema, "user_credentials")

	_, err = tx.Exec(ctx,
		`INSERT INTO `+users+` (id, username, username_norm, created_at)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.UsernameNorm, u.CreatedAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		return User{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+creds+` (user_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		u.ID, hash, u.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) CredentialsByUsername(ctx context.Context, username string) (Credentials, error) {
	const op = "identity.CredentialsByUsername"

	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	users := PGIdent(s.schema, "users")
	creds := PGIdent(s.schema, "user_credentials")

	var out Credentials
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, c.password_hash
		   FROM `+users+` u
		   JOIN `+creds+` c ON c.user_id = u.id
		  WHERE u.username_norm = $1`,
		NormalizeUsername(username),
	).Scan(&out.UserID, &out.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credentials{}, notFound(op)
	}
	if err != nil {
		return Credentials{}, err
	}
	return out, nil
}

// PGIdentIsValid checks if a string is a safe Postgres identifier.
func PGIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// PGIdent quotes a schema-qualified identifier: "schema"."name".
func PGIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
