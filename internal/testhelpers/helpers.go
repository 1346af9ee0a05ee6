// Package testhelpers provides WebSocket and HTTP utilities shared by the
// server tests.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// MakeRequest creates and executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DialWebSocket connects with the given Origin header and returns the
// handshake response status alongside any error.
func DialWebSocket(url, origin string) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// ConnectWebSocket connects with TestOrigin and closes the connection when
// the test ends.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := DialWebSocket(url, TestOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendFrame writes an {author, text} chat frame.
func SendFrame(t *testing.T, conn *websocket.Conn, author, text string) {
	t.Helper()

	payload, err := json.Marshal(map[string]string{"author": author, "text": text})
	require.NoError(t, err)
	SendRaw(t, conn, payload)
}

// SendRaw writes payload as a single text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, payload []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// ReadFrame reads the next text frame, failing after timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return data
}

// ExpectNoFrame asserts that nothing arrives within wait. The connection is
// unusable for reads afterwards, since gorilla treats a read timeout as fatal.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", data)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
