// Package store persists the routed-message audit log and consumer dead
// letters in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"geochat/go-geochat-server/internal/model"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routed_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			content TEXT NOT NULL,
			mode TEXT NOT NULL,
			reason TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_routed_messages_time ON routed_messages(created_at);`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			payload TEXT,
			error TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// InsertRoutedMessage records one audited delivery.
func (s *Store) InsertRoutedMessage(ctx context.Context, m model.RoutedMessage) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO routed_messages (sender, recipient, content, mode, reason, created_at) VALUES (?, ?, ?, ?, ?, ?);`,
		m.Sender,
		m.Recipient,
		m.Content,
		m.Mode,
		m.Reason,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert routed message: %w", err)
	}
	return nil
}

// RecentMessages returns the most recent routed messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]model.RoutedMessage, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT sender, recipient, content, mode, COALESCE(reason, ''), created_at
		 FROM routed_messages ORDER BY id DESC LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query routed messages: %w", err)
	}
	defer rows.Close()

	messages := make([]model.RoutedMessage, 0, limit)

	for rows.Next() {
		var (
			m            model.RoutedMessage
			createdAtStr string
		)
		if err := rows.Scan(&m.Sender, &m.Recipient, &m.Content, &m.Mode, &m.Reason, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan routed message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routed messages: %w", err)
	}
	return messages, nil
}

// InsertDeadLetter records a discarded async payload.
func (s *Store) InsertDeadLetter(ctx context.Context, d model.DeadLetter) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO dead_letters (queue, payload, error) VALUES (?, ?, ?);`,
		d.Queue,
		truncate(d.Payload, 4096),
		d.Error,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// RecentDeadLetters returns the most recent dead letters, newest first.
func (s *Store) RecentDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT queue, COALESCE(payload, ''), error, created_at
		 FROM dead_letters ORDER BY id DESC LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	letters := make([]model.DeadLetter, 0, limit)

	for rows.Next() {
		var (
			d            model.DeadLetter
			createdAtStr string
		)
		if err := rows.Scan(&d.Queue, &d.Payload, &d.Error, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		letters = append(letters, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return letters, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
