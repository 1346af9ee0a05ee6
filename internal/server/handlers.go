package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades the request, replays history to the new client,
// registers it and starts its read and write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.cfg, s.log)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()

	// Reading starts only after the client is registered, so its own first
	// message already reaches it.
	replayed := s.loader.Join(s.ctx, client)
	client.log.Info("Client connected", "history", replayed)

	go func() {
		defer s.wg.Done()
		client.readPump(s.ctx, s.engine.Handle, s.registry.Remove)
	}()
}

// HealthHandler responds with a plain text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Chat relay is running!")
}

// APIMessageHandler returns a fixed greeting as JSON.
func APIMessageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(APIMessage{Message: apiMessageText})
}

// HomeHandler serves the browser chat client.
func HomeHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, homePage)
}

const homePage = `<!DOCTYPE html>
<html>
<head>
    <title>Chat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #author { width: 120px; }
        #text { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .history { color: gray; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="author" placeholder="Your name">
        <input type="text" id="text" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        const messagesDiv = document.getElementById('messages');
        const authorInput = document.getElementById('author');
        const textInput = document.getElementById('text');
        const sendButton = document.getElementById('sendButton');
        const statusDiv = document.getElementById('status');
        const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
        let ws = null;

        function addLine(text, className) {
            const line = document.createElement('div');
            line.textContent = text;
            if (className) {
                line.className = className;
            }
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            textInput.disabled = !connected;
            sendButton.disabled = !connected;
        }

        function connect() {
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() { updateStatus(true); };
            ws.onmessage = function(event) {
                let msg;
                try {
                    msg = JSON.parse(event.data);
                } catch (e) {
                    return;
                }
                // Replayed history carries an id and a timestamp, live messages do not.
                if (msg.id !== undefined) {
                    addLine('[' + msg.timestamp + '] ' + msg.author + ': ' + msg.text, 'history');
                } else {
                    addLine(msg.author + ': ' + msg.text);
                }
            };
            ws.onclose = function() {
                updateStatus(false);
                ws = null;
                setTimeout(connect, 2000);
            };
        }

        function sendMessage() {
            const text = textInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ author: authorInput.value || 'anonymous', text: text }));
                textInput.value = '';
            }
        }

        textInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });

        connect();
    </script>
</body>
</html>`
