// Package migrations applies the SQL schema files shipped alongside the
// binary to the memory database.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
)

// RunMigrations brings the database up to the latest schema version using the
// numbered SQL files under migrationsPath. Already-applied versions are
// skipped; an up-to-date database is not an error.
func RunMigrations(db *sql.DB, migrationsPath string, logger zerolog.Logger) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("wrap sqlite connection for migration: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite3",
		driver,
	)
	if err != nil {
		return fmt.Errorf("open migration source %q: %w", migrationsPath, err)
	}

	logger.Info().Str("path", migrationsPath).Msg("Applying schema migrations")
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info().Msg("Schema already at latest version")
	case err != nil:
		return fmt.Errorf("apply migrations: %w", err)
	default:
		logger.Info().Msg("Schema migrations applied")
	}

	return nil
}
