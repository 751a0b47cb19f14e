package storage

import (
	"fmt"
	"time"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 2

// initSchema applies pending migrations. Safe to run on every open.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	migrations := []func() error{s.migrateToV1, s.migrateToV2}
	for v := version; v < len(migrations); v++ {
		if err := migrations[v](); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}

// migrateToV1 creates the security_events table.
func (s *SQLiteStore) migrateToV1() error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS security_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transport TEXT NOT NULL,
			remote_addr TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			nonce TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		);
	`
	return s.applyMigration(1, ddl)
}

// migrateToV2 indexes events by code for "handset audit --code".
func (s *SQLiteStore) migrateToV2() error {
	const ddl = `CREATE INDEX IF NOT EXISTS idx_security_events_code ON security_events(code);`
	return s.applyMigration(2, ddl)
}

func (s *SQLiteStore) applyMigration(version int, ddl string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(ddl); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("check schema version: %w", err)
	}
	return version, nil
}
