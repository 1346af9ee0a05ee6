//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store persists chat messages in an append-only log and serves the
// most recent slice of it for history replay.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrStore is wrapped by every read or write failure of a Store.
var ErrStore = errors.New("store failure")

const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// maxPrealloc bounds the slice capacity Recent reserves up front; limit itself is unbounded.
const maxPrealloc = 256

// Message is an appended chat message. Once returned by Append it never changes.
type Message struct {
	ID        int64
	Author    string
	Text      string
	CreatedAt time.Time
}

// Store is the durable, append-only message log.
type Store interface {
	// Append assigns the id and creation time, writes the message durably and
	// returns the stored record. Nothing is written when an error is returned.
	Append(ctx context.Context, author, text string) (Message, error)
	// Recent returns at most limit of the latest messages, oldest first.
	Recent(ctx context.Context, limit int) ([]Message, error)
	Close() error
}

// Options tunes how a backend is opened.
type Options struct {
	ReadOnly bool
}

// Open opens the backend named by driver at path.
func Open(driver, path string, log *slog.Logger, opts Options) (Store, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQLite(path, log, opts)
	case DriverBadger:
		return OpenBadger(path, log, opts)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
