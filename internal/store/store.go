package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mattn/go-sqlite3"
)

// driverName is go-sqlite3 with the index's SQL functions registered on
// every connection.
const driverName = "sqlite3_understory"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("path_glob", pathGlob, true); err != nil {
				return err
			}
			return conn.RegisterFunc("fold", Fold, true)
		},
	})
}

// Fold is the SQL function fold(text): Unicode lower case. SQLite's
// lower() only folds ASCII.
func Fold(s string) string {
	return strings.ToLower(s)
}

// pathGlob is the SQL function path_glob(pattern, path): a doublestar
// match of a root-relative path. A malformed pattern matches nothing.
func pathGlob(pattern, path string) bool {
	ok, _ := doublestar.Match(pattern, path)
	return ok
}

// SchemaVersion is bumped whenever schemaDDL changes shape. A database
// written under another version is regenerated rather than migrated.
const SchemaVersion = 1

const (
	metaSchemaVersion = "schema_version"
	metaLastUpdate    = "last_update"
)

// ErrSchemaMismatch is returned by CheckSchema for a populated database
// written under a different SchemaVersion.
var ErrSchemaMismatch = errors.New("store: schema version mismatch")

// Store is the SQLite data access layer for the index.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at path with WAL mode enabled, creating
// the parent directory when needed. Call Migrate before use.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open(driverName, path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for read queries built outside the
// store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes and stamps the schema version.
// Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, ok, err := s.GetMetadata(metaSchemaVersion); err != nil {
		return fmt.Errorf("migrate: %w", err)
	} else if !ok {
		if err := s.SetMetadata(metaSchemaVersion, strconv.Itoa(SchemaVersion)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CheckSchema returns ErrSchemaMismatch when the database already holds
// tables from another schema version. An empty database passes.
func (s *Store) CheckSchema() error {
	tables, err := s.tableNames()
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	if len(tables) == 0 {
		return nil
	}
	var found string
	if tables["metadata"] {
		v, _, err := s.GetMetadata(metaSchemaVersion)
		if err != nil {
			return fmt.Errorf("check schema: %w", err)
		}
		found = v
	}
	if found != strconv.Itoa(SchemaVersion) {
		return fmt.Errorf("%w: found %q, want %d", ErrSchemaMismatch, found, SchemaVersion)
	}
	return nil
}

// Drop removes every table in the database, whatever schema wrote it.
func (s *Store) Drop() error {
	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	defer conn.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	tables, err := s.tableNames()
	if err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	for name := range tables {
		if _, err := conn.ExecContext(ctx, `DROP TABLE IF EXISTS "`+name+`"`); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
	}
	return nil
}

// Reset deletes every file and, through cascades, everything they own.
func (s *Store) Reset() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("reset: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM files"); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := stampLastUpdate(tx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return tx.Commit()
}

func (s *Store) tableNames() (map[string]bool, error) {
	rows, err := s.db.Query("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

// SetMetadata stores a key/value pair, replacing any previous value.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata returns the value stored under key and whether it exists.
func (s *Store) GetMetadata(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, true, nil
}

// LastUpdate is the time of the most recent committed write, or the zero
// time for a store that was never written.
func (s *Store) LastUpdate() (time.Time, error) {
	v, ok, err := s.GetMetadata(metaLastUpdate)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last update: %w", err)
	}
	return t, nil
}

func stampLastUpdate(tx *sql.Tx) error {
	_, err := tx.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		metaLastUpdate, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  language        TEXT NOT NULL,
  hash            TEXT NOT NULL DEFAULT '',
  mtime           INTEGER NOT NULL DEFAULT 0,
  size            INTEGER NOT NULL DEFAULT 0,
  line_count      INTEGER NOT NULL DEFAULT 0,
  is_test         INTEGER NOT NULL DEFAULT 0,
  indexed_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  parent_id       INTEGER REFERENCES symbols(id) ON DELETE CASCADE,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  qualifier       TEXT NOT NULL DEFAULT '',
  visibility      TEXT NOT NULL DEFAULT '',
  start_line      INTEGER NOT NULL,
  start_col       INTEGER NOT NULL,
  start_byte      INTEGER NOT NULL,
  end_line        INTEGER NOT NULL,
  end_col         INTEGER NOT NULL,
  end_byte        INTEGER NOT NULL,
  name_start_line INTEGER NOT NULL,
  name_start_col  INTEGER NOT NULL,
  name_start_byte INTEGER NOT NULL,
  name_end_line   INTEGER NOT NULL,
  name_end_col    INTEGER NOT NULL,
  name_end_byte   INTEGER NOT NULL,
  signature       TEXT NOT NULL DEFAULT '',
  content_hash    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS edges (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  src_symbol_id   INTEGER NOT NULL REFERENCES symbols(id) ON DELETE CASCADE,
  dst_symbol_id   INTEGER REFERENCES symbols(id) ON DELETE SET NULL,
  dst_name        TEXT NOT NULL,
  dst_qualifier   TEXT NOT NULL DEFAULT '',
  kind            TEXT NOT NULL,
  start_line      INTEGER NOT NULL,
  start_col       INTEGER NOT NULL,
  start_byte      INTEGER NOT NULL,
  end_line        INTEGER NOT NULL,
  end_col         INTEGER NOT NULL,
  end_byte        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS references_ (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  from_symbol_id  INTEGER REFERENCES symbols(id) ON DELETE CASCADE,
  target_symbol_id INTEGER REFERENCES symbols(id) ON DELETE SET NULL,
  name            TEXT NOT NULL,
  qualifier       TEXT NOT NULL DEFAULT '',
  context         TEXT NOT NULL,
  start_line      INTEGER NOT NULL,
  start_col       INTEGER NOT NULL,
  start_byte      INTEGER NOT NULL,
  end_line        INTEGER NOT NULL,
  end_col         INTEGER NOT NULL,
  end_byte        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS includes (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  target          TEXT NOT NULL,
  system          INTEGER NOT NULL DEFAULT 0,
  line            INTEGER NOT NULL,
  col             INTEGER NOT NULL
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind);
CREATE INDEX IF NOT EXISTS idx_symbols_qualifier ON symbols(qualifier);
CREATE INDEX IF NOT EXISTS idx_symbols_parent ON symbols(parent_id);
CREATE INDEX IF NOT EXISTS idx_symbols_position ON symbols(file_id, start_line, end_line);
CREATE INDEX IF NOT EXISTS idx_symbols_content_hash ON symbols(content_hash);
CREATE INDEX IF NOT EXISTS idx_references_name ON references_(name);
CREATE INDEX IF NOT EXISTS idx_references_target ON references_(target_symbol_id);
CREATE INDEX IF NOT EXISTS idx_references_from ON references_(from_symbol_id);
CREATE INDEX IF NOT EXISTS idx_references_position ON references_(file_id, start_line);
CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src_symbol_id);
CREATE INDEX IF NOT EXISTS idx_edges_dst_name ON edges(dst_name);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst_symbol_id);
CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file_id);
CREATE INDEX IF NOT EXISTS idx_includes_file ON includes(file_id);
CREATE INDEX IF NOT EXISTS idx_includes_target ON includes(target);
`
