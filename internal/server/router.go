package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/presence"
)

var (
	// ErrAlreadyJoined is returned for a join on a connection that already
	// joined a room. A connection joins at most one room in its lifetime.
	ErrAlreadyJoined = errors.New("already joined a room")

	// ErrNotJoined is returned for actions that need room membership.
	ErrNotJoined = errors.New("user not found")

	errConnectionClosed = errors.New("connection closed")
	errRateLimited      = errors.New("rate limit exceeded")
	errUnknownEvent     = errors.New("unknown event")
	errBadPayload       = errors.New("malformed payload")
)

type sessionState int

const (
	stateUnjoined sessionState = iota
	stateJoined
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnjoined:
		return "unjoined"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("sessionState(%d)", int(s))
	}
}

// session is the event router of one connection. It turns inbound events
// into presence mutations and room broadcasts. The read pump is its only
// driver, and the mutex additionally makes teardown safe to call from
// anywhere.
type session struct {
	mu       sync.Mutex
	state    sessionState
	client   *Client
	hub      *Hub
	registry *presence.Registry
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

func newSession(client *Client, hub *Hub, registry *presence.Registry, metrics *Metrics, now func() time.Time) *session {
	if now == nil {
		now = time.Now
	}
	s := &session{
		state:    stateUnjoined,
		client:   client,
		hub:      hub,
		registry: registry,
		metrics:  metrics,
		log:      client.log,
		now:      now,
	}
	client.session = s
	return s
}

// dispatch decodes one inbound frame and routes it by event name.
func (s *session) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("invalid frame", "err", err)
		return
	}
	ack := s.acker(env.ID)

	switch env.Event {
	case EventJoin:
		var req JoinRequest
		if err := decodeData(env.Data, &req); err != nil {
			ack(errBadPayload)
			return
		}
		ack(s.join(req.Name, req.Room))

	case EventSendMessage:
		text, err := decodeMessageText(env.Data)
		if err != nil {
			ack(errBadPayload)
			return
		}
		ack(s.sendMessage(text))

	case EventTyping:
		var req TypingRequest
		if err := decodeData(env.Data, &req); err != nil {
			s.log.Debug("ignoring malformed typing event", "err", err)
			return
		}
		s.typing(req.IsTyping)

	default:
		s.log.Warn("unknown event", "event", env.Event)
		ack(fmt.Errorf("%w %q", errUnknownEvent, env.Event))
	}
}

// reject answers a frame that was not processed, if it asked for an ack.
func (s *session) reject(raw []byte, reason error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == EventTyping {
		return
	}
	s.acker(env.ID)(reason)
}

// acker returns the single-shot acknowledgement for a request. Requests
// without an id get a no-op.
func (s *session) acker(id *uint64) func(error) {
	if id == nil {
		return func(error) {}
	}
	var once sync.Once
	reqID := *id
	return func(err error) {
		once.Do(func() {
			var data any
			if err != nil {
				data = AckError{Error: err.Error()}
			}
			s.emit(EventAck, &reqID, data, func(frame []byte) { s.hub.sendTo(s.client, frame) })
		})
	}
}

func (s *session) join(name, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateJoined:
		return ErrAlreadyJoined
	case stateClosed:
		return errConnectionClosed
	}

	rec, err := s.registry.Add(s.client.id, name, room)
	if err != nil {
		s.metrics.joinRejected(rejectionReason(err))
		s.log.Info("join rejected", "name", name, "room", room, "err", err)
		return err
	}
	s.state = stateJoined
	s.metrics.joined()
	s.log.Info("user joined room", "name", rec.Name, "room", rec.Room)

	// The welcome goes straight to this client before it enters the fan-out
	// group, so no room-wide frame can overtake it.
	s.sendToSelf(s.notice(fmt.Sprintf("%s, welcome to the room %s", rec.Name, rec.Room)))

	if !s.hub.subscribe(s.client, rec.Room) {
		s.log.Warn("client left the hub before subscribing", "room", rec.Room)
		return nil
	}

	s.broadcast(rec.Room, s.notice(fmt.Sprintf("%s has joined", rec.Name)), s.client)
	s.broadcastRoomData(rec.Room)
	return nil
}

func (s *session) sendMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.presenceLocked()
	if !ok {
		s.log.Info("message from connection without presence")
		return ErrNotJoined
	}

	s.broadcast(rec.Room, s.chatMessage(rec.Name, text), nil)
	s.broadcastRoomData(rec.Room)
	s.metrics.messageRelayed()
	return nil
}

func (s *session) typing(isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.presenceLocked()
	if !ok {
		return
	}

	s.emit(EventUserTyping, nil, UserTyping{User: rec.Name, IsTyping: isTyping}, func(frame []byte) {
		s.hub.broadcastToRoom(rec.Room, frame, s.client)
	})
	s.metrics.typingRelayed()
}

// disconnect moves the session to its terminal state. Only the first call
// has any effect.
func (s *session) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	if prev == stateClosed {
		return
	}
	s.state = stateClosed

	// Leave the fan-out group before anything is broadcast.
	s.hub.unsubscribe(s.client)
	if prev != stateJoined {
		return
	}

	rec, ok := s.registry.Remove(s.client.id)
	if !ok {
		return
	}
	s.log.Info("user left room", "name", rec.Name, "room", rec.Room)

	s.broadcast(rec.Room, s.notice(fmt.Sprintf("%s has left.", rec.Name)), nil)
	s.broadcastRoomData(rec.Room)
}

func (s *session) presenceLocked() (presence.Record, bool) {
	if s.state != stateJoined {
		return presence.Record{}, false
	}
	return s.registry.Get(s.client.id)
}

func (s *session) notice(text string) ChatMessage {
	return s.chatMessage(adminUser, text)
}

func (s *session) chatMessage(user, text string) ChatMessage {
	return ChatMessage{User: user, Text: text, Timestamp: formatTimestamp(s.now())}
}

func (s *session) sendToSelf(msg ChatMessage) {
	s.emit(EventMessage, nil, msg, func(frame []byte) { s.hub.sendTo(s.client, frame) })
}

func (s *session) broadcast(room string, msg ChatMessage, exclude *Client) {
	s.emit(EventMessage, nil, msg, func(frame []byte) { s.hub.broadcastToRoom(room, frame, exclude) })
}

// broadcastRoomData reads the membership after the mutation that triggered
// it and sends it to the whole room.
func (s *session) broadcastRoomData(room string) {
	data := RoomData{Room: room, Users: s.registry.Members(room)}
	s.emit(EventRoomData, nil, data, func(frame []byte) { s.hub.broadcastToRoom(room, frame, nil) })
}

func (s *session) emit(event string, id *uint64, data any, deliver func([]byte)) {
	frame, err := encodeEvent(event, id, data)
	if err != nil {
		s.log.Error("failed to encode event", "event", event, "err", err)
		return
	}
	deliver(frame)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// decodeMessageText accepts either {"text": "..."} or a bare JSON string.
func decodeMessageText(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var req SendMessageRequest
	if err := decodeData(raw, &req); err != nil {
		return "", err
	}
	return req.Text, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, presence.ErrDuplicateName):
		return "duplicate_name"
	case errors.Is(err, presence.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, presence.ErrAlreadyPresent):
		return "already_present"
	default:
		return "other"
	}
}
