package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens the token database, configures it for a single writer and applies
// pending migrations. With exclusive set, it fails when another process holds
// the database.
func Open(ctx context.Context, path string, exclusive bool) (*sql.DB, error) {
	log := logging.Logger

	log.Info().Str("path", path).Msg("opening database")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := configureSQLite(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("configuring SQLite: %w", err)
	}

	if exclusive {
		if err := checkDatabaseLock(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}

	if err := Migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return sqlDB, nil
}

// Migrate applies the embedded goose migrations
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	log := logging.Logger

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	for _, r := range results {
		log.Debug().Int64("version", r.Source.Version).Str("path", r.Source.Path).Msg("migration applied")
	}
	log.Debug().Int("applied", len(results)).Msg("database migrations completed")
	return nil
}

// configureSQLite sets up SQLite for concurrent access
func configureSQLite(ctx context.Context, sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	// a single connection keeps the pragmas and any exclusive lock in effect
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	logging.Logger.Debug().
		Str("journal_mode", "WAL").
		Str("busy_timeout", "5000ms").
		Msg("SQLite configured")
	return nil
}

// checkDatabaseLock verifies no other process has the database locked
func checkDatabaseLock(ctx context.Context, sqlDB *sql.DB) error {
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA locking_mode=EXCLUSIVE"); err != nil {
		return fmt.Errorf("another instance may be running (database locked): %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		if strings.Contains(err.Error(), "locked") || strings.Contains(err.Error(), "busy") {
			return fmt.Errorf("another instance is already running (database is locked)")
		}
		return fmt.Errorf("checking database lock: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("releasing lock check: %w", err)
	}

	logging.Logger.Debug().Msg("database lock check passed")
	return nil
}
