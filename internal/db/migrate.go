// Package db owns the authhub schema and the postgres connection pool.
package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// golang-migrate picks the driver by scheme, so plain postgres urls are pointed to pgx v5
var migrateScheme = strings.NewReplacer(
	"postgresql://", "pgx5://",
	"postgres://", "pgx5://",
)

// Migrate brings schema to the latest embedded version. Up to date schema is not an error
func Migrate(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("embedded migrations broken: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateScheme.Replace(dsn))
	if err != nil {
		return fmt.Errorf("migrator not created: %w", err)
	}
	defer m.Close() // nolint:errcheck

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations not applied: %w", err)
	}

	return nil
}
