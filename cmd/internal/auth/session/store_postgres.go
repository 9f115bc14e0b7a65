package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"gatekeep/cmd/identity"
	"gatekeep/cmd/security/password"
	"gatekeep/cmd/security/token"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the gatekeep schema.
//
// Rotation locks the session row and its refresh-token row with
// SELECT ... FOR UPDATE and consumes the token with a conditional UPDATE
// whose rows-affected count must be 1, all in one transaction.
type PostgresStore struct {
	pool   *pgxpool.Pool
	v      verifier
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithPostgresSchema overrides the schema (default "gatekeep").
func WithPostgresSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		if !identity.PGIdentIsValid(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, users CredentialReader, pw password.Config, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	v, err := newVerifier(users, pw)
	if err != nil {
		return nil, err
	}
	st := &PostgresStore{pool: pool, v: v, schema: identity.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *PostgresStore) table(name string) string { return identity.PGIdent(s.schema, name) }

// Login verifies outside the transaction so Argon2id never holds a connection
// in a transaction; the session and refresh rows are then inserted together.
func (s *PostgresStore) Login(ctx context.Context, rec LoginRecord) (string, error) {
	userID, err := s.v.verify(ctx, rec.Username, rec.Password)
	if err != nil {
		return "", err
	}

	sessionID, err := identity.NewULID(rec.Now)
	if err != nil {
		return "", err
	}
	refreshID, err := identity.NewULID(rec.Now)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.insertSession(ctx, tx, sessionID, userID, rec.SessionHash, rec.Bound, rec.Now, rec.SessionExpiresAt); err != nil {
		return "", err
	}
	if err := s.insertRefresh(ctx, tx, refreshID, sessionID, rec.RefreshHash, rec.Bound, rec.Now, rec.RefreshExpiresAt); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RotateRefresh(ctx context.Context, rec RotateRecord) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Session{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := s.sessionByHash(ctx, tx, rec.SessionHash, true)
	if err != nil {
		return Session{}, err
	}
	switch {
	case sess.RevokedAt != nil:
		return Session{}, ErrSessionRevoked
	case sess.ReplacedBy != "":
		return Session{}, ErrSessionRotated
	case sess.Bound != rec.Client:
		return Session{}, ErrAddressMismatch
	}

	var (
		refreshID  string
		storedHash string
		bound      netip.Prefix
		expiresAt  time.Time
		consumedAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT id, token_hash, bound, expires_at, consumed_at
		   FROM `+s.table("refresh_tokens")+`
		  WHERE session_id = $1 AND token_hash = $2
		  FOR UPDATE`,
		sess.ID, rec.RefreshHash,
	).Scan(&refreshID, &storedHash, &bound, &expiresAt, &consumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrRefreshMismatch
	}
	if err != nil {
		return Session{}, err
	}

	switch {
	case !token.EqualHex(storedHash, rec.RefreshHash):
		return Session{}, ErrRefreshMismatch
	case consumedAt != nil:
		return Session{}, ErrRefreshConsumed
	case !expiresAt.After(rec.Now):
		return Session{}, ErrRefreshExpired
	case bound != rec.Client:
		return Session{}, ErrAddressMismatch
	}

	ct, err := tx.Exec(ctx,
		`UPDATE `+s.table("refresh_tokens")+`
		    SET consumed_at = $2
		  WHERE id = $1 AND consumed_at IS NULL`,
		refreshID, rec.Now,
	)
	if err != nil {
		return Session{}, err
	}
	if ct.RowsAffected() != 1 {
		return Session{}, ErrRefreshConsumed
	}

	out := sess
	owner := sess.ID
	if rec.NewSessionHash != "" {
		newID, err := identity.NewULID(rec.Now)
		if err != nil {
			return Session{}, err
		}
		if err := s.insertSession(ctx, tx, newID, sess.UserID, rec.NewSessionHash, sess.Bound, rec.Now, rec.NewSessionExpiresAt); err != nil {
			return Session{}, err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table("sessions")+` SET rotated_at = $2, replaced_by = $3 WHERE id = $1`,
			sess.ID, rec.Now, newID,
		); err != nil {
			return Session{}, err
		}
		owner = newID
		out = Session{
			ID:        newID,
			UserID:    sess.UserID,
			Bound:     sess.Bound,
			CreatedAt: rec.Now,
			ExpiresAt: rec.NewSessionExpiresAt,
		}
	} else {
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table("sessions")+` SET rotated_at = $2 WHERE id = $1`,
			sess.ID, rec.Now,
		); err != nil {
			return Session{}, err
		}
		now := rec.Now
		out.RotatedAt = &now
	}

	newRefreshID, err := identity.NewULID(rec.Now)
	if err != nil {
		return Session{}, err
	}
	if err := s.insertRefresh(ctx, tx, newRefreshID, owner, rec.NewRefreshHash, sess.Bound, rec.Now, rec.NewRefreshExpiresAt); err != nil {
		return Session{}, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table("refresh_tokens")+` SET replaced_by = $2 WHERE id = $1`,
		refreshID, newRefreshID,
	); err != nil {
		return Session{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, err
	}

	out.RefreshExpiresAt = rec.NewRefreshExpiresAt
	return out, nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, sessionHash string) (Session, error) {
	return s.sessionByHash(ctx, s.pool, sessionHash, false)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) sessionByHash(ctx context.Context, q queryer, hash string, forUpdate bool) (Session, error) {
	sql := `SELECT s.id, s.user_id, s.bound, s.created_at, s.expires_at,
	               s.rotated_at, COALESCE(s.replaced_by, ''), s.revoked_at,
	               COALESCE((SELECT r.expires_at FROM ` + s.table("refresh_tokens") + ` r
	                          WHERE r.session_id = s.id AND r.consumed_at IS NULL), 'epoch'::timestamptz)
	          FROM ` + s.table("sessions") + ` s
	         WHERE s.token_hash = $1`
	if forUpdate {
		sql += ` FOR UPDATE OF s`
	}

	var out Session
	err := q.QueryRow(ctx, sql, hash).Scan(
		&out.ID, &out.UserID, &out.Bound, &out.CreatedAt, &out.ExpiresAt,
		&out.RotatedAt, &out.ReplacedBy, &out.RevokedAt,
		&out.RefreshExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if out.RefreshExpiresAt.Equal(time.Unix(0, 0)) {
		out.RefreshExpiresAt = time.Time{}
	}
	return out, nil
}

func (s *PostgresStore) insertSession(ctx context.Context, tx pgx.Tx, id, userID, hash string, bound netip.Prefix, now, expiresAt time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("sessions")+` (id, user_id, token_hash, bound, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, hash, bound, now, expiresAt,
	)
	return err
}

func (s *PostgresStore) insertRefresh(ctx context.Context, tx pgx.Tx, id, sessionID, hash string, bound netip.Prefix, now, expiresAt time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("refresh_tokens")+` (id, session_id, token_hash, bound, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, sessionID, hash, bound, now, expiresAt,
	)
	return err
}
