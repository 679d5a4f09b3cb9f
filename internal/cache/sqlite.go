package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection shared by all store operations.
type DB struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// Open opens (or creates) the cache database at dbPath, enables WAL mode and
// foreign keys, and applies any pending schema migrations. ":memory:" opens
// an in-memory database.
func Open(dbPath string, logger *logrus.Logger) (*DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writers must not starve readers; WAL keeps readers off the write lock
	// and the busy timeout covers short-lived write transactions.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	d := &DB{db: db, logger: logger}
	if err := d.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.WithField("path", dbPath).Info("Cache initialized")
	return d, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (d *DB) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := d.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = d.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := d.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		d.logger.WithField("version", m.version).Debug("Applied schema migration")
	}

	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// IsConflict reports whether err is a SQLite unique-constraint violation.
// Duplicate UIDs within a folder surface this way.
func IsConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
