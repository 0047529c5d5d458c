package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/presence"
)

const testOrigin = "http://localhost:3000"

var testClock = func() time.Time {
	return time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
}

// frame is a decoded outbound envelope.
type frame struct {
	Event string          `json:"event"`
	ID    *uint64         `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func (f frame) message(t *testing.T) ChatMessage {
	t.Helper()
	if f.Event != EventMessage {
		t.Fatalf("expected %q frame, got %q", EventMessage, f.Event)
	}
	var msg ChatMessage
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	return msg
}

func (f frame) roomData(t *testing.T) RoomData {
	t.Helper()
	if f.Event != EventRoomData {
		t.Fatalf("expected %q frame, got %q", EventRoomData, f.Event)
	}
	var data RoomData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("failed to decode roomData: %v", err)
	}
	return data
}

func (f frame) typing(t *testing.T) UserTyping {
	t.Helper()
	if f.Event != EventUserTyping {
		t.Fatalf("expected %q frame, got %q", EventUserTyping, f.Event)
	}
	var data UserTyping
	if err := json.Unmarshal(f.Data, &data); err != nil {
		t.Fatalf("failed to decode userTyping: %v", err)
	}
	return data
}

// ackError returns the error text of an ack frame, or "" for a success ack.
func (f frame) ackError(t *testing.T, wantID uint64) string {
	t.Helper()
	if f.Event != EventAck {
		t.Fatalf("expected %q frame, got %q", EventAck, f.Event)
	}
	if f.ID == nil || *f.ID != wantID {
		t.Fatalf("expected ack id %d, got %v", wantID, f.ID)
	}
	if len(f.Data) == 0 {
		return ""
	}
	var ackErr AckError
	if err := json.Unmarshal(f.Data, &ackErr); err != nil {
		t.Fatalf("failed to decode ack payload: %v", err)
	}
	return ackErr.Error
}

// splitFrames decodes a websocket text message that may carry several
// newline separated envelopes.
func splitFrames(t *testing.T, payload []byte) []frame {
	t.Helper()
	var frames []frame
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			t.Fatalf("failed to decode frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

// request builds an inbound frame. A zero id means no ack is requested.
func request(t *testing.T, event string, id uint64, data any) []byte {
	t.Helper()
	env := map[string]any{"event": event}
	if id != 0 {
		env["id"] = id
	}
	if data != nil {
		env["data"] = data
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return raw
}

// routerFixture drives sessions directly, without sockets or pumps.
type routerFixture struct {
	hub      *Hub
	registry *presence.Registry
}

func newRouterFixture(opts ...presence.Option) *routerFixture {
	return &routerFixture{
		hub:      NewHub(nil, nil),
		registry: presence.New(opts...),
	}
}

func (f *routerFixture) connect() *Client {
	c := NewClient(nil, f.hub, "pipe", Config{SendBuffer: 64}, nil)
	f.hub.addClient(c)
	newSession(c, f.hub, f.registry, nil, testClock)
	return c
}

// drain returns every frame queued for c.
func drain(t *testing.T, c *Client) []frame {
	t.Helper()
	var frames []frame
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return frames
			}
			frames = append(frames, splitFrames(t, raw)...)
		default:
			return frames
		}
	}
}

func expectFrames(t *testing.T, c *Client, n int) []frame {
	t.Helper()
	frames := drain(t, c)
	if len(frames) != n {
		t.Fatalf("expected %d frames, got %d: %s", n, len(frames), describe(frames))
	}
	return frames
}

func describe(frames []frame) string {
	var b bytes.Buffer
	for _, f := range frames {
		fmt.Fprintf(&b, "[%s %s] ", f.Event, f.Data)
	}
	return b.String()
}

func memberNames(users []presence.Member) []string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
	}
	return names
}

// dialWS opens a websocket to url with an allowed origin.
func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("failed to connect websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// wsReader buffers frames read from a live connection so tests can wait for
// one frame at a time even when the server coalesced several.
type wsReader struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []frame
}

func newWSReader(t *testing.T, conn *websocket.Conn) *wsReader {
	return &wsReader{t: t, conn: conn}
}

func (r *wsReader) next() frame {
	r.t.Helper()
	for len(r.pending) == 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			r.t.Fatalf("failed to set read deadline: %v", err)
		}
		_, payload, err := r.conn.ReadMessage()
		if err != nil {
			r.t.Fatalf("failed to read frame: %v", err)
		}
		r.pending = splitFrames(r.t, payload)
	}
	f := r.pending[0]
	r.pending = r.pending[1:]
	return f
}

// nextEvent skips frames until one with the given event arrives.
func (r *wsReader) nextEvent(event string) frame {
	r.t.Helper()
	for {
		if f := r.next(); f.Event == event {
			return f
		}
	}
}

// expectSilence fails if any frame arrives within d. gorilla connections are
// unusable after a read timeout, so this must be the last read.
func (r *wsReader) expectSilence(d time.Duration) {
	r.t.Helper()
	if len(r.pending) > 0 {
		r.t.Fatalf("expected no frames, have %s", describe(r.pending))
	}
	if err := r.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		r.t.Fatalf("failed to set read deadline: %v", err)
	}
	if _, payload, err := r.conn.ReadMessage(); err == nil {
		r.t.Fatalf("expected no frames, got %s", payload)
	}
}
