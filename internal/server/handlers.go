// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, relay statistics, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler returns a handler that upgrades HTTP connections to
// WebSocket and registers them with the given hub. It validates that the
// request uses the GET method, upgrades the connection, creates a new Client
// instance, and hands it to the hub, which launches the read/write pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)

		// Register the client with the hub; the hub will launch the pump goroutines.
		hub.register <- client
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the relay is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RoomRelay server is running!")
}

// StatsHandler returns a handler reporting the number of known rooms and
// active memberships as JSON.
func StatsHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rooms, members := registry.Stats()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "members": members}); err != nil {
			log.Printf("Error writing stats response: %v", err)
		}
	}
}

// TestPageHandler serves an HTML test page for exercising the relay protocol.
// It provides a simple web interface to connect, create or join a room, send
// chat messages, and view what the relay sends back.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>RoomRelay Test</title>
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
        input[type="text"] {
            width: 220px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>RoomRelay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px;">
        <input type="text" id="roomInput" placeholder="Room name..." disabled>
        <button id="createButton" onclick="createRoom()" disabled>Create</button>
        <button id="joinButton" onclick="joinRoom()" disabled>Join</button>
    </div>
    <div style="margin-top: 10px;">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendChat()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const roomInput = document.getElementById('roomInput');
        const messageInput = document.getElementById('messageInput');
        const statusDiv = document.getElementById('status');
        const controls = ['roomInput', 'createButton', 'joinButton', 'messageInput', 'sendButton'];

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'black';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(id => document.getElementById(id).disabled = !connected);
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            ws = new WebSocket('ws://' + location.host + '/ws');

            ws.onopen = function() {
                addLine('Connected to RoomRelay', 'gray');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                let msg;
                try {
                    msg = JSON.parse(event.data);
                } catch (e) {
                    addLine(event.data, 'gray');
                    return;
                }
                if (msg.type === 'chat') {
                    addLine(msg.sender + ': ' + msg.message, msg.sender === 'me' ? 'blue' : 'green');
                } else if (msg.type === 'error') {
                    addLine(msg.message, 'red');
                } else {
                    addLine(msg.message, 'gray');
                }
            };

            ws.onclose = function() {
                addLine('Connection closed', 'gray');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function(error) {
                addLine('Connection error: ' + error, 'red');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(obj) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(obj));
            }
        }

        function createRoom() {
            send({ type: 'create', payload: { roomName: roomInput.value.trim() } });
        }

        function joinRoom() {
            send({ type: 'join', payload: { roomId: roomInput.value.trim() } });
        }

        function sendChat() {
            const message = messageInput.value.trim();
            if (message) {
                send({ type: 'chat', payload: { message: message } });
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendChat();
            }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
