// Package server coordinates client registration, room-scoped broadcast, and
// connection cleanup for the websocket system via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub manages all websocket client connections and the per-room fan-out
// groups. Registration goes through the Run loop, which also launches each
// client's pumps; room subscription and broadcast are synchronous and guarded
// by the hub mutex so that a client leaving a room is never targeted by a
// broadcast computed afterwards.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
	metrics    *Metrics
}

// NewHub creates and initializes a new Hub instance with all necessary
// channels and maps. The returned Hub is ready to manage connections once
// Run is started.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = discardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger,
		metrics:    metrics,
	}
}

// Register queues a client for registration. It returns false if the hub is
// shutting down, in which case the caller owns the connection.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub. After the Run loop has exited the
// removal happens inline.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.removeClient(client)
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration until Shutdown is called. It should be called in a separate
// goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}
			h.addClient(client)
			h.startPumps(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) startPumps(client *Client) {
	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.connectionOpened()
	h.log.Info("client registered", "conn", client.id, "addr", client.addr, "clients", clientCount)
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	h.leaveRoomLocked(client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.metrics.connectionClosed()
	h.log.Info("client unregistered", "conn", client.id, "addr", client.addr, "clients", clientCount)
}

// subscribe puts a registered client into the fan-out group of room.
func (h *Hub) subscribe(client *Client, room string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok || client.closed {
		return false
	}
	h.leaveRoomLocked(client)

	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[client] = struct{}{}
	client.room = room
	return true
}

// unsubscribe removes client from its fan-out group, if any, and returns the
// room it left.
func (h *Hub) unsubscribe(client *Client) string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.leaveRoomLocked(client)
}

func (h *Hub) leaveRoomLocked(client *Client) string {
	room := client.room
	if room == "" {
		return ""
	}
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.room = ""
	return room
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// sendTo delivers a frame to a single client.
func (h *Hub) sendTo(client *Client, message []byte) bool {
	if h.safeSend(client, message) {
		return true
	}
	h.removeFailedClients([]*Client{client})
	return false
}

// broadcastToRoom sends the frame to every member of room except exclude
// (which may be nil) and returns the number of clients it reached.
func (h *Hub) broadcastToRoom(room string, message []byte, exclude *Client) int {
	members := h.roomSnapshot(room)

	delivered := 0
	var clientsToRemove []*Client
	for _, client := range members {
		if exclude != nil && client == exclude {
			continue
		}
		if h.safeSend(client, message) {
			delivered++
		} else {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	h.removeFailedClients(clientsToRemove)
	h.log.Debug("room broadcast", "room", room, "delivered", delivered)
	return delivered
}

// roomSnapshot returns a thread-safe snapshot of the members of room.
func (h *Hub) roomSnapshot(room string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	members := h.rooms[room]
	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients drops clients that could not take a frame and closes
// their send channels. Their write pump then closes the socket and the read
// pump runs the normal disconnect path.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			h.leaveRoomLocked(client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.log.Warn("client removed due to full send buffer", "conn", client.id, "addr", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
		h.metrics.clientDropped()
		h.metrics.connectionClosed()
	}
}

// shutdownClients closes every active client connection. Each read pump then
// unwinds through its own disconnect path.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing client connection", "conn", client.id, "addr", client.addr, "err", err)
			}
		}
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
