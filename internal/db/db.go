package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/focus/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// FileName is the database file inside the base directory.
const FileName = "focus.db"

// Path returns the database file path for baseDir.
func Path(baseDir string) string {
	return filepath.Join(baseDir, FileName)
}

// Init initializes the SQLite database at baseDir/focus.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.focus.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	for _, sub := range []string{"exports", "captures"} {
		dir := filepath.Join(baseDir, sub)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
		_ = os.Chmod(dir, 0700)
	}

	// Pragmas in the connection string apply to every pooled connection
	dbPath := Path(baseDir)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// InitMemory opens a migrated in-memory database.
// The pool is pinned to one connection because each SQLite memory connection
// is a separate database.
func InitMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: snapshots and their detail rows, task segments.
	// Timestamps are unix milliseconds.
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
		  id           INTEGER PRIMARY KEY AUTOINCREMENT,
		  timestamp    INTEGER NOT NULL,
		  summary      TEXT NOT NULL,
		  focus_score  REAL NOT NULL,
		  primary_task TEXT,
		  batch_id     TEXT
		);

		CREATE TABLE IF NOT EXISTS task_segments (
		  id         INTEGER PRIMARY KEY AUTOINCREMENT,
		  start_time INTEGER NOT NULL,
		  end_time   INTEGER,
		  task_name  TEXT NOT NULL,
		  category   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS activities (
		  id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		  snapshot_id            INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		  task_segment_id        INTEGER REFERENCES task_segments(id) ON DELETE SET NULL,
		  name                   TEXT NOT NULL,
		  category               TEXT NOT NULL,
		  purpose                TEXT NOT NULL DEFAULT '',
		  attention_level        INTEGER NOT NULL CHECK (attention_level BETWEEN 0 AND 100),
		  context_switches       TEXT NOT NULL,
		  workspace_organization TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS focus_states (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  snapshot_id INTEGER NOT NULL UNIQUE REFERENCES snapshots(id) ON DELETE CASCADE,
		  state_type  TEXT NOT NULL,
		  confidence  REAL NOT NULL CHECK (confidence BETWEEN 0 AND 1)
		);

		CREATE TABLE IF NOT EXISTS environments (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  snapshot_id INTEGER NOT NULL UNIQUE REFERENCES snapshots(id) ON DELETE CASCADE,
		  description TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp);
		CREATE INDEX IF NOT EXISTS idx_activities_snapshot ON activities(snapshot_id);
		CREATE INDEX IF NOT EXISTS idx_task_segments_time ON task_segments(start_time, end_time);
		CREATE INDEX IF NOT EXISTS idx_task_segments_open ON task_segments(end_time) WHERE end_time IS NULL;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: persisted focus sessions and their triggers.
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS focus_sessions (
		  id               INTEGER PRIMARY KEY AUTOINCREMENT,
		  start_time       INTEGER NOT NULL,
		  end_time         INTEGER,
		  activity_type    TEXT NOT NULL,
		  duration_minutes REAL NOT NULL DEFAULT 0,
		  context_switches INTEGER NOT NULL DEFAULT 0,
		  attention_score  REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS focus_triggers (
		  id               INTEGER PRIMARY KEY AUTOINCREMENT,
		  session_id       INTEGER NOT NULL REFERENCES focus_sessions(id) ON DELETE CASCADE,
		  timestamp        INTEGER NOT NULL,
		  trigger_type     TEXT NOT NULL,
		  source           TEXT NOT NULL,
		  recovery_seconds INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_focus_sessions_start ON focus_sessions(start_time);
		CREATE INDEX IF NOT EXISTS idx_focus_triggers_session ON focus_triggers(session_id);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
