package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps messages in a single SQLite table.
type SQLiteStore struct {
	db       *sql.DB
	log      *slog.Logger
	readOnly bool
}

// OpenSQLite opens or creates the database file at path and migrates the schema.
func OpenSQLite(path string, log *slog.Logger, opts Options) (*SQLiteStore, error) {
	dsn := path + "?_fk=on&_busy_timeout=5000"
	if opts.ReadOnly {
		dsn = "file:" + path + "?mode=ro&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY between pool members.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log, readOnly: opts.ReadOnly}
	if !opts.ReadOnly {
		if err := s.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			author TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts a message. AUTOINCREMENT keeps ids from ever being reused,
// even after the highest row is gone.
func (s *SQLiteStore) Append(ctx context.Context, author, text string) (Message, error) {
	if s.readOnly {
		return Message{}, wrap("append", errors.New("store opened read-only"))
	}
	at := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (author, text, timestamp) VALUES (?, ?, ?)`,
		author, text, at)
	if err != nil {
		return Message{}, wrap("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, wrap("append", err)
	}
	s.log.Debug("Message appended", "id", id, "author", author)
	return Message{ID: id, Author: author, Text: text, CreatedAt: at}, nil
}

// Recent selects the newest rows and returns them in replay order.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, text, timestamp FROM (
			SELECT id, author, text, timestamp FROM messages ORDER BY id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`, limit)
	if err != nil {
		return nil, wrap("recent", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, min(limit, maxPrealloc))
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Author, &m.Text, &m.CreatedAt); err != nil {
			return nil, wrap("recent", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("recent", err)
	}
	return messages, nil
}
