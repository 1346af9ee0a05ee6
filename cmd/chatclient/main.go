// Command chatclient is a terminal client for the chat relay. Lines read from
// stdin are sent as messages; everything the relay sends is printed.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
)

// Config is read from CHAT_* environment variables.
type Config struct {
	URL     string `envconfig:"CHAT_URL" default:"ws://localhost:8080/ws"`
	Origin  string `envconfig:"CHAT_ORIGIN" default:"http://localhost:8080"`
	Author  string `envconfig:"CHAT_AUTHOR" default:"anonymous"`
	Colours bool   `envconfig:"CHAT_COLOURS" default:"true"`
}

// incoming covers both shapes the relay sends: replayed history carries an
// id and a timestamp, live messages are relayed as the sender wrote them.
type incoming struct {
	ID        *int64 `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if !cfg.Colours {
		color.Disable()
	}

	headers := http.Header{}
	headers.Set("Origin", cfg.Origin)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(cfg.URL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.URL, err)
	}
	defer conn.Close()

	color.Green.Printf("Connected to %s as %s\n", cfg.URL, cfg.Author)

	readDone := make(chan error, 1)
	go func() {
		readDone <- printFrames(conn)
	}()

	lines := make(chan string)
	go scanLines(lines)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case err := <-readDone:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				color.Yellow.Println("Relay closed the connection")
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return closeConnection(conn)
			}
			if line == "" {
				continue
			}
			frame, err := json.Marshal(map[string]string{"author": cfg.Author, "text": line})
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		case <-interrupt:
			return closeConnection(conn)
		}
	}
}

func scanLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func printFrames(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			color.Red.Printf("unreadable frame: %s\n", data)
			continue
		}
		if msg.ID != nil {
			color.Gray.Printf("[%s] #%d ", msg.Timestamp, *msg.ID)
		}
		color.Cyan.Print(msg.Author)
		fmt.Printf(": %s\n", msg.Text)
	}
}

func closeConnection(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
