package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// Engine persists inbound messages and relays them to every connection.
type Engine struct {
	log    *slog.Logger
	store  store.Store
	fanout Broadcaster
	gate   sync.Locker
}

// NewEngine builds an Engine. gate is shared with the HistoryLoader.
func NewEngine(log *slog.Logger, st store.Store, fanout Broadcaster, gate sync.Locker) *Engine {
	return &Engine{log: log, store: st, fanout: fanout, gate: gate}
}

// Handle processes one raw frame received from the connection identified by
// from. A malformed frame or a failed append stops the pipeline for this frame
// and the error is returned; nothing is broadcast in either case. On success
// the original payload bytes are broadcast, the sender included.
func (e *Engine) Handle(ctx context.Context, from string, payload []byte) error {
	author, text, err := ParseInbound(payload)
	if err != nil {
		return err
	}

	e.gate.Lock()
	defer e.gate.Unlock()

	message, err := e.store.Append(ctx, author, text)
	if err != nil {
		return err
	}

	delivered := e.fanout.Broadcast(payload)
	e.log.Debug("Message relayed", "conn", from, "id", message.ID, "delivered", delivered)
	return nil
}
