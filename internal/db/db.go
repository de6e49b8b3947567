package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vellumdb/vellum/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/vellum.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.vellum.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Create objects and exports subdirectories
	for _, sub := range []string{"objects", "exports"} {
		dir := filepath.Join(baseDir, sub)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
		_ = os.Chmod(dir, 0700)
	}

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "vellum.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
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

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
		  id                        TEXT PRIMARY KEY,
		  conversation_id           TEXT NOT NULL,
		  version                   INTEGER NOT NULL,
		  created_at                INTEGER NOT NULL,
		  message_count             INTEGER NOT NULL,
		  file_count                INTEGER NOT NULL,
		  trigger_kind              TEXT NOT NULL,
		  trigger_ref               TEXT,
		  previous_snapshot_id      TEXT,
		  restored_from_snapshot_id TEXT,
		  fingerprint               TEXT NOT NULL
		);

		-- The optimistic single-writer-per-conversation check: two concurrent
		-- writers computing the same next version collide here; the loser
		-- surfaces CONFLICT and retries against the new latest.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_conv_version
		ON snapshots(conversation_id, version);

		CREATE INDEX IF NOT EXISTS idx_snapshots_conv_created
		ON snapshots(conversation_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS message_revisions (
		  id                  TEXT PRIMARY KEY,
		  conversation_id     TEXT NOT NULL,
		  message_id          TEXT NOT NULL,
		  snapshot_id         TEXT NOT NULL,
		  content             TEXT NOT NULL,
		  role                TEXT NOT NULL,
		  revision_number     INTEGER NOT NULL,
		  is_active           INTEGER NOT NULL DEFAULT 1,
		  is_soft_deleted     INTEGER NOT NULL DEFAULT 0,
		  edit_reason         TEXT,
		  superseded_at       INTEGER,
		  soft_deleted_in     TEXT,
		  original_created_at INTEGER NOT NULL,
		  created_at          INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_message_revisions_msg_rev
		ON message_revisions(message_id, revision_number);

		-- At most one active revision per stable message identity.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_message_revisions_active
		ON message_revisions(message_id)
		WHERE is_active = 1;

		CREATE INDEX IF NOT EXISTS idx_message_revisions_conv
		ON message_revisions(conversation_id, original_created_at);

		CREATE TABLE IF NOT EXISTS media_revisions (
		  id                     TEXT PRIMARY KEY,
		  conversation_id        TEXT NOT NULL,
		  file_name              TEXT NOT NULL,
		  snapshot_id            TEXT NOT NULL,
		  storage_locator        TEXT NOT NULL,
		  storage_object_version TEXT NOT NULL,
		  checksum               TEXT NOT NULL,
		  mime_type              TEXT,
		  size_bytes             INTEGER NOT NULL,
		  source                 TEXT,
		  revision_number        INTEGER NOT NULL,
		  previous_revision_id   TEXT,
		  status                 TEXT NOT NULL DEFAULT 'active',
		  status_changed_in      TEXT,
		  created_at             INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_media_revisions_file_rev
		ON media_revisions(conversation_id, file_name, revision_number);

		CREATE INDEX IF NOT EXISTS idx_media_revisions_conv_status
		ON media_revisions(conversation_id, status);

		CREATE TABLE IF NOT EXISTS restore_records (
		  id                    TEXT PRIMARY KEY,
		  conversation_id       TEXT NOT NULL,
		  from_snapshot_id      TEXT NOT NULL,
		  to_snapshot_id        TEXT NOT NULL,
		  scope                 TEXT NOT NULL,
		  reason                TEXT,
		  affected_message_ids  TEXT,
		  affected_file_names   TEXT,
		  messages_restored     INTEGER NOT NULL,
		  files_restored        INTEGER NOT NULL,
		  created_at            INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_restore_records_conv
		ON restore_records(conversation_id, created_at DESC);

		-- Derived projection, rebuildable from snapshots at any time.
		CREATE TABLE IF NOT EXISTS timeline_days (
		  conversation_id   TEXT NOT NULL,
		  day               TEXT NOT NULL,
		  snapshot_count    INTEGER NOT NULL,
		  first_snapshot_id TEXT NOT NULL,
		  last_snapshot_id  TEXT NOT NULL,
		  PRIMARY KEY (conversation_id, day)
		);

		-- Derived full-text index over message revision content.
		CREATE VIRTUAL TABLE IF NOT EXISTS revision_fts USING fts5(
		  content,
		  revision_id UNINDEXED,
		  message_id UNINDEXED,
		  conversation_id UNINDEXED
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

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
