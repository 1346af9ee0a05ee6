package server

import "strings"

// APIMessage is the body of GET /api/message.
type APIMessage struct {
	Message string `json:"message"`
}

const apiMessageText = "Hello from Dockerized CI/CD pipeline!"

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
