// Package server defines the JSON envelope exchanged over the websocket and
// the payloads carried for each event.
package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/presence"
)

// Inbound event names.
const (
	EventJoin        = "join"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
)

// Outbound event names.
const (
	EventAck        = "ack"
	EventMessage    = "message"
	EventRoomData   = "roomData"
	EventUserTyping = "userTyping"
)

// adminUser is the sender name used for server-generated notices.
const adminUser = "admin"

// timestampLayout renders UTC times the way JavaScript's toISOString does.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the frame format for every websocket text message. ID is set
// by clients that want an acknowledgement and echoed back on the ack.
type Envelope struct {
	Event string          `json:"event"`
	ID    *uint64         `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the payload of a join event.
type JoinRequest struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

// SendMessageRequest is the payload of a sendMessage event.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// TypingRequest is the payload of a typing event.
type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

// ChatMessage is a chat line or a server notice.
type ChatMessage struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// RoomData is a full membership snapshot of one room.
type RoomData struct {
	Room  string            `json:"room"`
	Users []presence.Member `json:"users"`
}

// UserTyping is the ephemeral typing indicator.
type UserTyping struct {
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

// AckError is the ack payload of a failed request.
type AckError struct {
	Error string `json:"error"`
}

// encodeEvent marshals an outbound envelope. A nil data value omits the field.
func encodeEvent(event string, id *uint64, data any) ([]byte, error) {
	env := Envelope{Event: event, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

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
