// Package store is the single source of truth for tasks, messages, agents,
// history, and schedules. Every mutating operation is a single SQLite
// transaction; with one open connection this serializes all writers, which
// is what makes ClaimNext race-free across concurrent pollers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"swarmq/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  type TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','in_progress','complete','failed')) DEFAULT 'pending',
  priority INTEGER NOT NULL DEFAULT 5,
  assigned_to TEXT,
  result TEXT,
  error TEXT,
  retries INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  created_at INTEGER NOT NULL,
  started_at INTEGER,
  completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, priority DESC, created_at ASC, id ASC);
CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(status, completed_at);

CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  from_agent TEXT NOT NULL,
  to_agent TEXT,
  topic TEXT NOT NULL,
  payload TEXT NOT NULL,
  consumed INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_inbox ON messages(consumed, to_agent, topic, id);

CREATE TABLE IF NOT EXISTS agents (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  capabilities TEXT NOT NULL DEFAULT '{}',
  status TEXT NOT NULL CHECK(status IN ('idle','busy','offline')) DEFAULT 'idle',
  current_task INTEGER,
  last_heartbeat INTEGER NOT NULL,
  started_at INTEGER NOT NULL,
  total_completed INTEGER NOT NULL DEFAULT 0,
  total_failed INTEGER NOT NULL DEFAULT 0,
  metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id INTEGER NOT NULL,
  agent_id TEXT,
  action TEXT NOT NULL CHECK(action IN ('assigned','started','completed','failed','retried')),
  details TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_task ON history(task_id, id);

CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  cron_expr TEXT NOT NULL,
  task_type TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}',
  priority INTEGER NOT NULL DEFAULT 5,
  assigned_to TEXT,
  enabled INTEGER NOT NULL DEFAULT 1,
  last_run INTEGER,
  next_run INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(enabled, next_run);

CREATE TABLE IF NOT EXISTS config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE VIEW IF NOT EXISTS active_tasks AS
  SELECT id, type, status, priority, assigned_to, created_at
  FROM tasks WHERE status IN ('pending','in_progress');
CREATE VIEW IF NOT EXISTS agent_health AS
  SELECT id, status, last_heartbeat FROM agents;
CREATE VIEW IF NOT EXISTS unread_messages AS
  SELECT id, from_agent, to_agent, topic, created_at
  FROM messages WHERE consumed = 0;
`

// Config keys seeded at open; deployments override via SetConfig.
const (
	ConfigMaxRetries       = "max_retries"
	ConfigHeartbeatTimeout = "heartbeat_timeout_seconds"
	ConfigRetentionDays    = "retention_days"
)

type Store struct {
	db *sql.DB
}

// Open creates the database file if needed, applies pragmas and schema, and
// seeds default config values.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	seed := map[string]string{
		ConfigMaxRetries:       strconv.Itoa(domain.DefaultMaxRetries),
		ConfigHeartbeatTimeout: "30",
		ConfigRetentionDays:    "7",
	}
	for k, v := range seed {
		if _, err := db.Exec(`INSERT OR IGNORE INTO config (key, value) VALUES (?, ?)`, k, v); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed config %s: %w", k, err)
		}
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for ad-hoc queries (stats views, tests).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// SetConfig upserts a deployment-level setting.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO config (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// ConfigInt reads an integer setting, falling back when unset or malformed.
func (s *Store) ConfigInt(ctx context.Context, key string, fallback int) int {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// Timestamps persist as unix nanoseconds so priority-band FIFO ordering and
// retention cutoffs compare exactly at sub-second resolution.
func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func validPayload(p json.RawMessage) bool {
	return len(p) > 0 && json.Valid(p)
}

// begin starts a write transaction; serializable matches the claim contract.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return tx, nil
}
