package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// DefaultHistoryLimit is how many past messages a new connection receives.
const DefaultHistoryLimit = 20

// HistoryLoader replays recent messages to a connection before it joins the
// broadcast set.
type HistoryLoader struct {
	log         *slog.Logger
	store       store.Store
	subscribers Subscriber
	gate        sync.Locker
	limit       int
}

// NewHistoryLoader builds a loader. gate must be the one given to the Engine:
// holding it across the snapshot and the registration means every message is
// seen by the new connection exactly once, either replayed or broadcast.
func NewHistoryLoader(log *slog.Logger, st store.Store, subscribers Subscriber, gate sync.Locker, limit int) *HistoryLoader {
	return &HistoryLoader{log: log, store: st, subscribers: subscribers, gate: gate, limit: limit}
}

// Join sends the history frames to conn only, oldest first, then registers
// it. A failing store skips the replay; conn is registered either way.
// It returns the number of frames queued.
func (l *HistoryLoader) Join(ctx context.Context, conn Conn) int {
	l.gate.Lock()
	defer l.gate.Unlock()

	sent := l.replay(ctx, conn)
	l.subscribers.Add(conn)
	return sent
}

func (l *HistoryLoader) replay(ctx context.Context, conn Conn) int {
	messages, err := l.store.Recent(ctx, l.limit)
	if err != nil {
		l.log.Error("Skipping history replay", "conn", conn.ID(), "error", err)
		return 0
	}

	sent := 0
	for _, frame := range historyFrames(messages) {
		bytes, err := json.Marshal(frame)
		if err != nil {
			l.log.Error("Failed to encode history frame", "conn", conn.ID(), "id", frame.ID, "error", err)
			continue
		}
		if !conn.Send(bytes) {
			l.log.Warn("History replay interrupted", "conn", conn.ID(), "sent", sent, "error", ErrDeliveryFailed)
			break
		}
		sent++
	}
	l.log.Debug("History replayed", "conn", conn.ID(), "frames", sent)
	return sent
}
