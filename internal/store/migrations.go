package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Migration is one schema step. Down must undo Up exactly.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Conversion history learned by local sessions",
		Up: `
CREATE TABLE IF NOT EXISTS history (
    reading     TEXT NOT NULL,
    word        TEXT NOT NULL,
    count       INTEGER NOT NULL DEFAULT 0,
    last_used   INTEGER NOT NULL,
    PRIMARY KEY (reading, word)
);
CREATE INDEX IF NOT EXISTS idx_history_last_used ON history(last_used);
`,
		Down: `
DROP INDEX IF EXISTS idx_history_last_used;
DROP TABLE IF EXISTS history;
`,
	},
	{
		Version:     2,
		Description: "Quality harness runs and per-case results",
		Up: `
CREATE TABLE IF NOT EXISTS quality_runs (
    id          TEXT PRIMARY KEY,
    label       TEXT,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER,
    case_count  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS quality_results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL REFERENCES quality_runs(id) ON DELETE CASCADE,
    source      TEXT NOT NULL,
    input       TEXT NOT NULL,
    expected    TEXT NOT NULL,
    output      TEXT NOT NULL,
    score       REAL NOT NULL,
    error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_quality_results_run ON quality_results(run_id, source);
`,
		Down: `
DROP INDEX IF EXISTS idx_quality_results_run;
DROP TABLE IF EXISTS quality_results;
DROP TABLE IF EXISTS quality_runs;
`,
	},
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL,
    description TEXT
)`

// inTx runs fn in a transaction, rolling back when fn fails.
func inTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MigrateDB brings the schema to the latest version. Each step commits on
// its own, so a failure leaves the earlier steps applied.
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := inTx(db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.Up); err != nil {
				return err
			}
			_, err := tx.Exec(
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UnixNano(), m.Description,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// RollbackMigration undoes the newest applied migration.
func RollbackMigration(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return errors.New("no migrations to roll back")
	}
	idx := -1
	for i, m := range migrations {
		if m.Version == current {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("schema version %d is newer than this build", current)
	}
	m := migrations[idx]
	err = inTx(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(m.Down); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %d: %w", m.Version, err)
	}
	return nil
}

// MigrationStatus compares the database schema with this build.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
}

// GetMigrationStatus reports the applied version and pending steps.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	current, err := schemaVersion(db)
	if err != nil {
		return nil, err
	}
	st := &MigrationStatus{
		CurrentVersion: current,
		LatestVersion:  migrations[len(migrations)-1].Version,
	}
	for _, m := range migrations {
		if m.Version > current {
			st.Pending = append(st.Pending, m)
		}
	}
	return st, nil
}
