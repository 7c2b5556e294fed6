// Package migrations applies versioned schema changes on top of the base
// catalog schema. The base schema is created with IF NOT EXISTS statements by
// each backend; anything added later goes here so existing databases pick it up.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration represents a single database migration
type Migration struct {
	Version     int
	Description string
	Up          string // SQL to apply the migration
	Down        string // SQL to revert the migration
}

// Manager handles database migrations
type Manager struct {
	migrations []Migration
}

// NewManager creates a new migration manager
func NewManager() *Manager {
	return &Manager{}
}

// Catalog returns a manager with every catalog migration registered
func Catalog() *Manager {
	m := NewManager()
	m.Register(Migration{
		Version:     1,
		Description: "index builds by fingerprint for duplicate lookup",
		Up:          `CREATE INDEX IF NOT EXISTS idx_builds_fingerprint ON builds(fingerprint, state)`,
		Down:        `DROP INDEX IF EXISTS idx_builds_fingerprint`,
	})
	m.Register(Migration{
		Version:     2,
		Description: "index branches by pull request head label",
		Up:          `CREATE INDEX IF NOT EXISTS idx_branches_pull_head ON branches(pull_head_name)`,
		Down:        `DROP INDEX IF EXISTS idx_branches_pull_head`,
	})
	return m
}

// Register adds a migration to the manager
func (m *Manager) Register(migration Migration) {
	m.migrations = append(m.migrations, migration)
}

// Migrations returns the registered migrations sorted by version
func (m *Manager) Migrations() []Migration {
	m.sortMigrations()
	return append([]Migration(nil), m.migrations...)
}

func (m *Manager) sortMigrations() {
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// ApplySQLite applies all pending migrations to a SQLite database and
// returns how many were applied
func (m *Manager) ApplySQLite(ctx context.Context, db *sql.DB) (int, error) {
	if err := createSQLiteVersionTable(ctx, db); err != nil {
		return 0, fmt.Errorf("failed to create version table: %w", err)
	}

	currentVersion, err := SQLiteVersion(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	applied := 0
	for _, migration := range m.Migrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if err := applySQLiteMigration(ctx, db, migration); err != nil {
			return applied, fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		applied++
	}
	return applied, nil
}

// RollbackSQLite rolls back the last migration from a SQLite database
func (m *Manager) RollbackSQLite(ctx context.Context, db *sql.DB) error {
	currentVersion, err := SQLiteVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	for _, migration := range m.Migrations() {
		if migration.Version == currentVersion {
			if err := rollbackSQLiteMigration(ctx, db, migration); err != nil {
				return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
			}
			return nil
		}
	}
	return fmt.Errorf("migration %d not found", currentVersion)
}

// SQLiteVersion returns the highest applied migration version (0 if none)
func SQLiteVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func createSQLiteVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func applySQLiteMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Description, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

func rollbackSQLiteMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	return tx.Commit()
}
