package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// EmbeddedMigrations returns the schema migrations compiled into the binary.
func EmbeddedMigrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		// The embed pattern guarantees the directory exists.
		panic(err)
	}
	return sub
}

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager handles database migrations
// FUNCTIONAL DISCOVERY: Applied versions are tracked in schema_migrations so
// restarts against an existing file only run what is new.
type MigrationManager struct {
	db     *sql.DB
	source fs.FS
}

// NewMigrationManager creates a new migration manager reading *.sql files
// from the root of source.
func NewMigrationManager(db *sql.DB, source fs.FS) *MigrationManager {
	return &MigrationManager{
		db:     db,
		source: source,
	}
}

// ApplyMigrations applies all pending migrations in version order, each in
// its own transaction.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, migration := range migrations {
		if done[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// LoadMigrations reads and orders the migration files.
// TECHNICAL DISCOVERY: "001_initial_schema.sql" yields version "001" and
// description "initial_schema"; ordering is lexical on version.
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.source, entry.Name())
		if err != nil {
			return nil, err
		}

		parts := strings.SplitN(strings.TrimSuffix(entry.Name(), ".sql"), "_", 2)
		migration := Migration{Version: parts[0], SQL: string(content)}
		if len(parts) == 2 {
			migration.Description = parts[1]
		}
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// AppliedVersions returns the versions recorded in schema_migrations.
func (m *MigrationManager) AppliedVersions() ([]string, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}
