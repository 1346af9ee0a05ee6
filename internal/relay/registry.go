//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_registry.go -package=mocks

// Package relay implements the chat pipeline: the connection registry, the
// history replay for new connections, and the engine that persists and fans
// out inbound messages.
package relay

import (
	"context"
	"log/slog"
	"sync"
)

// Conn is a live client channel as seen by the registry.
type Conn interface {
	ID() string
	// Send queues a frame without blocking. It reports false when the
	// connection is closed or cannot take more frames.
	Send(frame []byte) bool
	// Close stops all future sends. It is safe to call more than once.
	Close()
}

// Broadcaster delivers a payload to every registered connection and reports
// how many accepted it.
type Broadcaster interface {
	Broadcast(payload []byte) int
}

// Subscriber makes a connection eligible for broadcasts.
type Subscriber interface {
	Add(conn Conn)
}

type broadcastRequest struct {
	payload   []byte
	delivered chan int
}

// Registry tracks the open connections. Membership changes and fan-out are
// all executed by the Run goroutine, one at a time, in the order they arrive.
type Registry struct {
	log        *slog.Logger
	conns      map[Conn]struct{}
	register   chan Conn
	unregister chan Conn
	broadcast  chan broadcastRequest
	mutex      sync.RWMutex
	done       chan struct{}
}

// NewRegistry creates an empty registry. Run must be started before the
// registry is used.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:        log,
		conns:      make(map[Conn]struct{}),
		register:   make(chan Conn),
		unregister: make(chan Conn),
		broadcast:  make(chan broadcastRequest),
		done:       make(chan struct{}),
	}
}

// Add registers conn as a broadcast target. Adding a registered connection is
// a no-op. Once the registry has stopped, conn is closed instead.
func (r *Registry) Add(conn Conn) {
	select {
	case r.register <- conn:
	case <-r.done:
		conn.Close()
	}
}

// Remove unregisters conn and closes it. Removing an unknown or already
// removed connection does nothing.
func (r *Registry) Remove(conn Conn) {
	select {
	case r.unregister <- conn:
	case <-r.done:
	}
}

// Broadcast sends payload verbatim to every registered connection and
// returns once each of them has been tried.
func (r *Registry) Broadcast(payload []byte) int {
	req := broadcastRequest{payload: payload, delivered: make(chan int, 1)}
	select {
	case r.broadcast <- req:
	case <-r.done:
		return 0
	}
	return <-req.delivered
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.conns)
}

// Done is closed once Run has returned and every connection was closed.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Run is the registry's event loop. It returns when ctx is cancelled, after
// closing all registered connections.
func (r *Registry) Run(ctx context.Context) error {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.shutdownConns()
			return nil

		case conn := <-r.register:
			if conn == nil {
				r.log.Warn("Received nil connection registration; skipping")
				continue
			}
			r.mutex.Lock()
			_, exists := r.conns[conn]
			r.conns[conn] = struct{}{}
			count := len(r.conns)
			r.mutex.Unlock()
			if !exists {
				r.log.Info("Connection registered", "conn", conn.ID(), "total", count)
			}

		case conn := <-r.unregister:
			r.mutex.Lock()
			_, exists := r.conns[conn]
			delete(r.conns, conn)
			count := len(r.conns)
			r.mutex.Unlock()
			if exists {
				conn.Close()
				r.log.Info("Connection unregistered", "conn", conn.ID(), "total", count)
			}

		case req := <-r.broadcast:
			req.delivered <- r.handleBroadcast(req.payload)
		}
	}
}

// handleBroadcast fans payload out to a snapshot of the current members.
func (r *Registry) handleBroadcast(payload []byte) int {
	conns := r.snapshot()
	r.log.Debug("Broadcasting message", "targets", len(conns))

	var failed []Conn
	delivered := 0
	for _, conn := range conns {
		if conn.Send(payload) {
			delivered++
			continue
		}
		r.log.Warn("Dropping connection", "conn", conn.ID(), "error", ErrDeliveryFailed)
		failed = append(failed, conn)
	}
	r.removeFailed(failed)
	return delivered
}

func (r *Registry) snapshot() []Conn {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// removeFailed drops connections whose outbound queue refused a frame.
func (r *Registry) removeFailed(failed []Conn) {
	if len(failed) == 0 {
		return
	}

	r.mutex.Lock()
	for _, conn := range failed {
		delete(r.conns, conn)
	}
	r.mutex.Unlock()

	for _, conn := range failed {
		conn.Close()
	}
}

func (r *Registry) shutdownConns() {
	r.log.Info("Shutting down all client connections...")

	r.mutex.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	clear(r.conns)
	r.mutex.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	r.log.Info("Closed client connections", "count", len(conns))
}
