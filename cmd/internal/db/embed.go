// Package db embeds gatekeep's SQL schema and applies it with golang-migrate.
package db

import "embed"

// MigrationFS holds migrations/*.sql, applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
