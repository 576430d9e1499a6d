package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// migrationsFS embeds the SQL migrations for every supported driver. Each
// driver has its own directory because column types differ.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// ErrDirtyDatabase is returned when a previous migration failed half-way.
var ErrDirtyDatabase = errors.New("database is in dirty state")

// MigratePostgres applies all up migrations to the database at dsn. dsn must
// be a postgres:// URL.
func MigratePostgres(dsn string) error {
	return migrateUp("migrations/postgres", dsn)
}

// MigrateSQLite applies all up migrations to the SQLite file at path.
func MigrateSQLite(path string) error {
	return migrateUp("migrations/sqlite", "sqlite://"+path)
}

func migrateUp(dir, databaseURL string) error {
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("open migrations %s: %w", dir, err)
	}

	mg, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		srcErr, dbErr := mg.Close()
		if srcErr != nil || dbErr != nil {
			zap.L().Warn("close migrate", zap.NamedError("source_error", srcErr), zap.NamedError("db_error", dbErr))
		}
	}()

	_, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return ErrDirtyDatabase
	}

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, _ := mg.Version()
	zap.L().Info("Database migrations applied", zap.String("dir", dir), zap.Uint("version", version))
	return nil
}
