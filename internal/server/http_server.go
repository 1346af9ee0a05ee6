package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// Server owns the relay pipeline and the client goroutines serving it.
type Server struct {
	cfg      *Config
	log      *slog.Logger
	registry *relay.Registry
	engine   *relay.Engine
	loader   *relay.HistoryLoader
	origins  *originPolicy
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New wires the registry, history loader and broadcast engine around st.
// Start must be called before serving requests.
func New(cfg *Config, log *slog.Logger, st store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	registry := relay.NewRegistry(log)
	// Shared by the engine and the loader; see relay.NewHistoryLoader.
	gate := &sync.Mutex{}

	s := &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		engine:   relay.NewEngine(log, st, registry, gate),
		loader:   relay.NewHistoryLoader(log, st, registry, gate, cfg.HistoryLimit),
		origins:  newOriginPolicy(log, cfg.AllowedOrigins()),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Start launches the registry loop in a separate goroutine.
func (s *Server) Start() {
	go func() {
		_ = s.registry.Run(s.ctx)
	}()
	s.log.Info("Registry started and ready to manage WebSocket connections")
}

// Connections returns the number of clients eligible for broadcasts.
func (s *Server) Connections() int {
	return s.registry.Len()
}

// Shutdown closes every client and waits for their goroutines to finish,
// or until the timeout is reached.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info("Initiating relay shutdown...")
	s.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.registry.Done():
	case <-timer.C:
		s.log.Warn("Relay shutdown timeout reached before the registry stopped")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Relay shutdown completed successfully")
		return nil
	case <-timer.C:
		s.log.Warn("Relay shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it stops.
func StartServer(log *slog.Logger, server *http.Server) error {
	log.Info("Server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// Hijacked WebSocket connections are not tracked by http.Server; Server.Shutdown closes those.
func ShutdownServer(log *slog.Logger, server *http.Server, timeout time.Duration) error {
	log.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
