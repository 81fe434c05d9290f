// Package archive stores relayed chat in SQLite.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/dkeye/voicesession/internal/relay"
	_ "modernc.org/sqlite"
)

// DB wraps the chat archive database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the archive at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure archive: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL DEFAULT '',
			room_id    TEXT NOT NULL DEFAULT '',
			sender_id  TEXT NOT NULL,
			sender     TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS chat_messages_scope
			ON chat_messages (session_id, room_id, id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chat table: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Path() string { return d.path }

func scopeColumns(s domain.Session) (sessionID, roomID string) {
	if s.Kind == domain.SessionRoom {
		return "", s.ID
	}
	return s.ID, ""
}

// Append stores one message.
func (d *DB) Append(ctx context.Context, e relay.ChatEntry) error {
	sid, rid := scopeColumns(e.Session)
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, room_id, sender_id, sender, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sid, rid, string(e.SenderID), e.Sender, e.Text, e.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// History returns up to limit most recent messages of s, oldest first.
func (d *DB) History(ctx context.Context, s domain.Session, limit int) ([]relay.ChatEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	sid, rid := scopeColumns(s)
	rows, err := d.db.QueryContext(ctx, `
		SELECT sender_id, sender, text, created_at FROM (
			SELECT id, sender_id, sender, text, created_at FROM chat_messages
			WHERE session_id = ? AND room_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, sid, rid, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}
	defer rows.Close()

	var out []relay.ChatEntry
	for rows.Next() {
		var (
			e        relay.ChatEntry
			senderID string
			at       time.Time
		)
		if err := rows.Scan(&senderID, &e.Sender, &e.Text, &at); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		e.Session = s
		e.SenderID = domain.UserID(senderID)
		e.At = at
		out = append(out, e)
	}
	return out, rows.Err()
}
