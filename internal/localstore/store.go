package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const currentVersion = 1

// timeFormat is a fixed-width UTC timestamp layout so that stored
// timestamps order correctly under text comparison, including sub-second
// ties.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store is the sqlite-backed LocalStore.
type Store struct {
	db *sql.DB
	notifier
}

// New opens (or creates) the sqlite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes writes to the same row while sqlite's
	// own locking keeps reads consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	s.notifier.init()
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewMemory creates an in-memory store for testing.
func NewMemory() (*Store, error) {
	return New(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	return err
}

func (s *Store) migrateV1() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		email        TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		bio          TEXT NOT NULL DEFAULT '',
		links        TEXT NOT NULL DEFAULT '',
		online       INTEGER NOT NULL DEFAULT 0,
		last_seen    TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL DEFAULT '',
		updated_at   TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE TABLE IF NOT EXISTS credentials (
		email         TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		updated_at    TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		owner_id   TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS members (
		project_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		username   TEXT NOT NULL DEFAULT '',
		role       TEXT NOT NULL,
		inviter_id TEXT NOT NULL DEFAULT '',
		joined_at  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (project_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id              TEXT PRIMARY KEY,
		external_id     TEXT NOT NULL DEFAULT '',
		project_id      TEXT NOT NULL,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		participants    TEXT NOT NULL DEFAULT '',
		created_by      TEXT NOT NULL DEFAULT '',
		last_message    TEXT NOT NULL DEFAULT '',
		last_message_at TEXT NOT NULL DEFAULT '',
		pinned          INTEGER NOT NULL DEFAULT 0,
		archived        INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL DEFAULT '',
		updated_at      TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_rooms_project ON rooms(project_id);
	CREATE INDEX IF NOT EXISTS idx_rooms_external ON rooms(external_id);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		room_id     TEXT NOT NULL,
		sender_id   TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL DEFAULT 'text',
		edited      INTEGER NOT NULL DEFAULT 0,
		edited_at   TEXT NOT NULL DEFAULT '',
		reactions   TEXT NOT NULL DEFAULT '',
		read_by     TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS tasks (
		id              TEXT PRIMARY KEY,
		project_id      TEXT NOT NULL,
		room_id         TEXT NOT NULL DEFAULT '',
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'todo',
		priority        TEXT NOT NULL DEFAULT 'medium',
		assignee_id     TEXT NOT NULL DEFAULT '',
		assignee_name   TEXT NOT NULL DEFAULT '',
		due_date        TEXT NOT NULL DEFAULT '',
		tags            TEXT NOT NULL DEFAULT '',
		estimated_hours REAL NOT NULL DEFAULT 0,
		actual_hours    REAL NOT NULL DEFAULT 0,
		comments        TEXT NOT NULL DEFAULT '',
		parent_task_id  TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL DEFAULT '',
		updated_at      TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);

	CREATE TABLE IF NOT EXISTS invites (
		code       TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func fromJSON(s string, dest any) {
	if s == "" || s == "null" {
		return
	}
	// Corrupt cache rows degrade to zero values rather than failing reads.
	_ = json.Unmarshal([]byte(s), dest)
}
