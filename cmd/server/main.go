package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment alone is enough.
	_ = godotenv.Load()

	config, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	st, err := store.Open(config.StoreDriver, config.StorePath, log, store.Options{})
	if err != nil {
		return fmt.Errorf("store opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing message store...")
		if err := st.Close(); err != nil {
			log.Error("Message store close failed", "error", err)
		}
	}()

	relay := server.New(config, log, st)
	relay.Start()

	httpServer := server.CreateServer(config.Addr(), relay.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(log, httpServer)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = relay.Shutdown(shutdownTimeout)
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	httpErr := server.ShutdownServer(log, httpServer, shutdownTimeout)
	relayErr := relay.Shutdown(shutdownTimeout)
	return errors.Join(httpErr, relayErr)
}
