package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	messagePrefix = "msg:"
	sequenceKey   = "seq:messages"
	sequenceLease = 100
)

// BadgerStore keeps messages in BadgerDB under "msg:{id}" keys. The id is
// zero-padded to 20 digits so that lexicographic key order is id order.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
	// mu makes id assignment and the write a single step, so ids reach disk in order.
	mu sync.Mutex
}

type diskMessage struct {
	ID     int64  `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
	At     int64  `json:"at"`
}

// OpenBadger opens the BadgerDB directory at path with synchronous writes.
// A read-only store takes a shared directory lock, so it cannot be opened while a
// writer holds the directory.
func OpenBadger(path string, log *slog.Logger, opts Options) (*BadgerStore, error) {
	options := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLoggingLevel(badger.WARNING)
	if opts.ReadOnly {
		options = options.WithReadOnly(true)
	}
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("database opening failed: %w", err)
	}

	s := &BadgerStore{db: db, log: log}
	if !opts.ReadOnly {
		seq, err := db.GetSequence([]byte(sequenceKey), sequenceLease)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to lease message sequence: %w", err)
		}
		s.seq = seq
	}
	return s, nil
}

// Close returns the unused part of the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			s.log.Warn("Failed to release message sequence", "error", err)
		}
	}
	return s.db.Close()
}

// Append stores the message under the next sequence number. A failed write
// burns its id; ids are never handed out twice.
func (s *BadgerStore) Append(_ context.Context, author, text string) (Message, error) {
	if s.seq == nil {
		return Message{}, wrap("append", errors.New("store opened read-only"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.seq.Next()
	if err != nil {
		return Message{}, wrap("append", err)
	}
	message := Message{
		ID:        int64(next) + 1,
		Author:    author,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	bytes, err := json.Marshal(fromMessage(message))
	if err != nil {
		return Message{}, wrap("append", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message.ID), bytes)
	})
	if err != nil {
		return Message{}, wrap("append", err)
	}
	s.log.Debug("Message appended", "id", message.ID, "author", author)
	return message, nil
}

// Recent walks the keys backwards from the newest id and stops at limit.
func (s *BadgerStore) Recent(_ context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}

	messages := make([]Message, 0, min(limit, maxPrealloc))
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		options.PrefetchSize = min(limit, maxPrealloc)
		it := txn.NewIterator(options)
		defer it.Close()

		// 0xFF sorts after every digit, so the seek lands on the newest key.
		seekKey := append([]byte(messagePrefix), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var dm diskMessage
				if err := json.Unmarshal(value, &dm); err != nil {
					return err
				}
				messages = append(messages, toMessage(dm))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("recent", err)
	}

	slices.SortStableFunc(messages, func(a, b Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return messages, nil
}

func messageKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix, id))
}

func fromMessage(m Message) diskMessage {
	return diskMessage{ID: m.ID, Author: m.Author, Text: m.Text, At: m.CreatedAt.UnixNano()}
}

func toMessage(dm diskMessage) Message {
	return Message{
		ID:        dm.ID,
		Author:    dm.Author,
		Text:      dm.Text,
		CreatedAt: time.Unix(0, dm.At).UTC(),
	}
}
