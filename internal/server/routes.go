package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application routes:
// the chat homepage, the API greeting, the health check and the WebSocket endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", HomeHandler)
	mux.HandleFunc("GET /api/message", APIMessageHandler)
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	return mux
}
