package db

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Schema is the Postgres schema the migrations create.
const Schema = "gatekeep"

// ErrNoChange is returned when Up/Down has nothing to do.
var ErrNoChange = migrate.ErrNoChange

// Migrate applies the embedded migrations. direction is "up" or "down".
// ErrNoChange is returned as-is so callers can treat it as success.
func Migrate(dsn, direction string) error {
	if strings.TrimSpace(dsn) == "" {
		return errors.New("GATEKEEP_DATABASE_URL is not set")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	src, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == "up" {
		return m.Up()
	}
	return m.Down()
}

// UpSQL returns every *.up.sql migration concatenated in version order with
// the schema name replaced. Integration tests use it to build an isolated
// schema per test.
func UpSQL(schema string) (string, error) {
	names, err := fs.Glob(MigrationFS, "migrations/*.up.sql")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, name := range names {
		raw, err := fs.ReadFile(MigrationFS, name)
		if err != nil {
			return "", err
		}
		b.Write(raw)
		b.WriteString("\n")
	}

	sql := b.String()
	if schema != Schema {
		sql = strings.ReplaceAll(sql, "EXISTS "+Schema+";", "EXISTS "+schema+";")
		sql = strings.ReplaceAll(sql, Schema+".", schema+".")
	}
	return sql, nil
}
