// Package db provides the SQLite dispatch journal.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DB wraps the journal database.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
}

// migration is one forward schema step.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				timestamp TEXT NOT NULL,
				type TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				payload_json TEXT,
				metadata_json TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp, id);
			CREATE INDEX IF NOT EXISTS idx_events_entity ON events (entity_type, entity_id);
			CREATE INDEX IF NOT EXISTS idx_events_type ON events (type);
		`,
	},
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	return open(dsn, path)
}

// OpenInMemory opens a private in-memory journal, used by tests and dry runs.
func OpenInMemory() (*DB, error) {
	return open("file::memory:", ":memory:")
}

func open(dsn, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection keeps in-memory databases shared and serializes writes.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return &DB{DB: sqlDB, path: path, logger: logging.Component("db")}, nil
}

// Path returns the database location.
func (db *DB) Path() string { return db.path }

// MigrateUp applies pending migrations and returns how many ran.
func (db *DB) MigrateUp(ctx context.Context) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		applied++
		db.logger.Debug().Int("version", m.version).Msg("migration applied")
	}
	return applied, nil
}
