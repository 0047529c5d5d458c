// Package server exposes the room chat HTTP surface: websocket upgrades,
// health checks, the account API and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/Tyrowin/roomchat/internal/auth"
)

const maxRequestBody = 1 << 20

// WebSocketHandler upgrades the request, creates a Client with its event
// router and hands it to the hub, which launches the pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, s.cfg, s.log)
	newSession(client, s.hub, s.registry, s.metrics, s.now)

	if !s.hub.Register(client) {
		s.log.Info("rejecting connection during shutdown", "addr", r.RemoteAddr)
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Room chat server is running!")
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Presences   int    `json:"presences"`
	Rooms       int    `json:"rooms"`
	Goroutines  int    `json:"goroutines"`
}

// HealthStatusHandler reports live connection and room counts as JSON.
func (s *Server) HealthStatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:      "ok",
		Connections: s.hub.ClientCount(),
		Presences:   s.registry.Len(),
		Rooms:       s.registry.RoomCount(),
		Goroutines:  runtime.NumGoroutine(),
	})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterHandler creates an account and answers with the profile and a token.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	creds, err := s.accounts.Register(r.Context(), req.Name, req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, creds)
	case errors.Is(err, auth.ErrMissingRegisterFields):
		writeError(w, http.StatusBadRequest, "Please fill all fields")
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "This Email is already Registered!!")
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("register failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// LoginHandler checks credentials and answers with the profile and a fresh token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	creds, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, creds)
	case errors.Is(err, auth.ErrMissingLoginFields):
		writeError(w, http.StatusBadRequest, "Please provide email and password")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User Does not Exist!!")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "Password does not match!!")
	default:
		s.log.Error("login failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// MeHandler returns the identity carried by the caller's token.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": claims.ID, "email": claims.Email})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// TestPageHandler serves an HTML page for exercising the realtime protocol
// from a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Warn("error writing HTML response", "err", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Room Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        #users { color: #555; margin: 5px 0; }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:disabled { background-color: #999; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Room Chat Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="name" placeholder="Name">
        <input type="text" id="room" placeholder="Room">
        <button id="joinButton" onclick="join()">Join</button>
    </div>
    <div id="users"></div>
    <div id="messages"></div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        let nextId = 1;
        let typingTimer = null;
        const $ = (id) => document.getElementById(id);

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '3px 0';
            el.style.color = color || 'black';
            el.textContent = text;
            $('messages').appendChild(el);
            $('messages').scrollTop = $('messages').scrollHeight;
        }

        function setStatus(text, ok) {
            $('status').textContent = text;
            $('status').className = 'status ' + (ok ? 'connected' : 'disconnected');
        }

        function send(event, data, withAck) {
            const frame = { event: event, data: data };
            if (withAck) frame.id = nextId++;
            ws.send(JSON.stringify(frame));
        }

        function handle(frame) {
            switch (frame.event) {
            case 'message':
                const color = frame.data.user === 'admin' ? 'gray' : 'green';
                addLine('[' + frame.data.timestamp + '] ' + frame.data.user + ': ' + frame.data.text, color);
                break;
            case 'roomData':
                $('users').textContent = 'In ' + frame.data.room + ': ' + frame.data.users.map(u => u.name).join(', ');
                break;
            case 'userTyping':
                setStatus(frame.data.isTyping ? frame.data.user + ' is typing...' : 'Joined', true);
                break;
            case 'ack':
                if (frame.data && frame.data.error) {
                    addLine('error: ' + frame.data.error, 'red');
                }
                break;
            }
        }

        function join() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                send('join', { name: $('name').value, room: $('room').value }, true);
                setStatus('Joined', true);
                $('messageInput').disabled = false;
                $('sendButton').disabled = false;
                $('joinButton').disabled = true;
            };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(line => handle(JSON.parse(line)));
            };
            ws.onclose = function() {
                setStatus('Disconnected', false);
                $('messageInput').disabled = true;
                $('sendButton').disabled = true;
                $('joinButton').disabled = false;
                ws = null;
            };
        }

        function sendMessage() {
            const text = $('messageInput').value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                send('sendMessage', { text: text }, true);
                send('typing', { isTyping: false }, false);
                $('messageInput').value = '';
            }
        }

        $('messageInput').addEventListener('keydown', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
                return;
            }
            if (!ws) return;
            send('typing', { isTyping: true }, false);
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => send('typing', { isTyping: false }, false), 1500);
        });
    </script>
</body>
</html>`
