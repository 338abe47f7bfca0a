package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/selectedu/select/pkg/logger"
)

// SQLiteStore implements Store over a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// Option applies a configuration option to the SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; a second conn just queues on
	// the busy handler.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	email               TEXT NOT NULL UNIQUE,
	password_hash       BLOB NOT NULL,
	contact_number      TEXT NOT NULL DEFAULT '',
	school_name         TEXT NOT NULL DEFAULT '',
	school_type         TEXT NOT NULL DEFAULT '',
	state               TEXT NOT NULL DEFAULT '',
	science_grades      TEXT NOT NULL DEFAULT '[]',
	teaching_experience TEXT NOT NULL DEFAULT '',
	edtech_experience   TEXT NOT NULL DEFAULT '',
	edtech_solutions    TEXT NOT NULL DEFAULT '[]',
	designation         TEXT NOT NULL DEFAULT '',
	role                TEXT NOT NULL DEFAULT 'user',
	is_online           INTEGER NOT NULL DEFAULT 0,
	is_evaluating       INTEGER NOT NULL DEFAULT 0,
	current_step        INTEGER NOT NULL DEFAULT 0,
	last_login_ms       INTEGER,
	last_activity_ms    INTEGER,
	total_time_ms       INTEGER NOT NULL DEFAULT 0,
	total_attempts      INTEGER NOT NULL DEFAULT 0,
	created_ms          INTEGER NOT NULL,
	updated_ms          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_activities (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	session_token TEXT NOT NULL DEFAULT '',
	login_ms      INTEGER,
	logout_ms     INTEGER,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	is_active     INTEGER NOT NULL DEFAULT 0,
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	activity_type TEXT NOT NULL DEFAULT 'login',
	created_ms    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_activities_user ON user_activities(user_id, created_ms DESC);

CREATE TABLE IF NOT EXISTS evaluation_sessions (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	session_token     TEXT NOT NULL DEFAULT '',
	attempt_number    INTEGER NOT NULL DEFAULT 1,
	started_ms        INTEGER NOT NULL,
	ended_ms          INTEGER,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	current_step      INTEGER NOT NULL DEFAULT 0,
	current_step_name TEXT NOT NULL DEFAULT '',
	total_steps       INTEGER NOT NULL DEFAULT 0,
	completion_pct    REAL NOT NULL DEFAULT 0,
	has_started       INTEGER NOT NULL DEFAULT 0,
	is_completed      INTEGER NOT NULL DEFAULT 0,
	is_restart        INTEGER NOT NULL DEFAULT 0,
	is_abandoned      INTEGER NOT NULL DEFAULT 0,
	has_exported      INTEGER NOT NULL DEFAULT 0,
	export_type       TEXT NOT NULL DEFAULT '',
	exported_ms       INTEGER,
	results_json      BLOB,
	created_ms        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_eval_sessions_user ON evaluation_sessions(user_id, started_ms DESC);

CREATE TABLE IF NOT EXISTS evaluation_steps (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES evaluation_sessions(id) ON DELETE CASCADE,
	step_number INTEGER NOT NULL,
	step_name   TEXT NOT NULL DEFAULT '',
	started_ms  INTEGER NOT NULL,
	ended_ms    INTEGER,
	time_ms     INTEGER NOT NULL DEFAULT 0,
	completed   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_eval_steps_session ON evaluation_steps(session_id, started_ms);

CREATE TABLE IF NOT EXISTS feedback (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	user_name    TEXT NOT NULL DEFAULT '',
	user_email   TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL CHECK (length(body) <= 2000),
	category     TEXT NOT NULL DEFAULT 'general',
	status       TEXT NOT NULL DEFAULT 'pending',
	responded_by TEXT NOT NULL DEFAULT '',
	session_id   TEXT NOT NULL DEFAULT '',
	created_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_status ON feedback(status, created_ms DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Time columns hold Unix milliseconds; NULL means the zero time.

func toMS(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMS(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func (s *SQLiteStore) logErr(ctx context.Context, op string, err error) {
	s.logger.Error(ctx, "repository operation failed",
		logger.String("op", op),
		logger.Error(err),
	)
}
