package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the database with immediate write transactions so that
// read-then-write sequences such as strike counting cannot interleave.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS journal_entries (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		intent            TEXT NOT NULL,
		content           TEXT NOT NULL,
		linked_ids        TEXT DEFAULT '',
		journal_title     TEXT DEFAULT '',
		decision          TEXT DEFAULT '',
		crisis            INTEGER NOT NULL DEFAULT 0,
		result_json       TEXT NOT NULL,
		published_post_id TEXT DEFAULT '',
		completed_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_user_completed ON journal_entries(user_id, completed_at);

	CREATE TABLE IF NOT EXISTS user_topics (
		user_id    TEXT NOT NULL,
		topic      TEXT NOT NULL,
		use_count  INTEGER NOT NULL DEFAULT 1,
		first_seen DATETIME NOT NULL,
		last_seen  DATETIME NOT NULL,
		PRIMARY KEY (user_id, topic)
	);

	CREATE TABLE IF NOT EXISTS posts (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		journal_id TEXT NOT NULL,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		clear_ask  TEXT DEFAULT '',
		topics     TEXT DEFAULT '',
		intent     TEXT DEFAULT '',
		source     TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at);

	CREATE TABLE IF NOT EXISTS comments (
		id         TEXT PRIMARY KEY,
		post_id    TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id, created_at);

	CREATE TABLE IF NOT EXISTS comment_flags (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT NOT NULL,
		content    TEXT NOT NULL,
		reason     TEXT DEFAULT '',
		severity   TEXT DEFAULT 'medium',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flags_user_created ON comment_flags(user_id, created_at);

	CREATE TABLE IF NOT EXISTS blocked_users (
		user_id         TEXT PRIMARY KEY,
		reason          TEXT DEFAULT '',
		violation_count INTEGER NOT NULL DEFAULT 0,
		blocked_at      DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS api_usage (
		date                  TEXT NOT NULL,
		service               TEXT NOT NULL,
		operation             TEXT NOT NULL,
		requests              INTEGER NOT NULL DEFAULT 0,
		input_tokens          INTEGER NOT NULL DEFAULT 0,
		output_tokens         INTEGER NOT NULL DEFAULT 0,
		cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
		cost_usd              REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (date, service, operation)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func dsn(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
}

func joinList(values []string) string {
	return strings.Join(values, ",")
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
