// Package presence keeps the authoritative table of which connection occupies
// which room under which display name.
//
// The Registry is keyed by connection identifier so that cleanup on disconnect
// is a single map delete. A secondary per-room index is maintained in the same
// critical section as every add and remove, so readers of a room's member list
// never observe a half-applied mutation.
package presence

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrInvalidInput is returned when the display name or room key is empty
	// or whitespace-only.
	ErrInvalidInput = errors.New("username and room are required")

	// ErrDuplicateName is returned when another live connection in the same
	// room already holds the requested display name.
	ErrDuplicateName = errors.New("username is taken")

	// ErrAlreadyPresent is returned when the connection already owns a record.
	ErrAlreadyPresent = errors.New("connection already has a presence record")

	// ErrNotFound reports a lookup or removal for a connection with no record.
	// Callers treat it as benign.
	ErrNotFound = errors.New("presence not found")
)

// Record is the presence of one connection: the display name it joined with
// and the room it joined. Records are immutable once created.
type Record struct {
	ConnID string
	Name   string
	Room   string
}

// Member is the public view of a Record used in room membership snapshots.
type Member struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

// RoomSummary describes a non-empty room.
type RoomSummary struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithCaseInsensitiveNames makes the duplicate-name check fold case, so
// "alice" and "Alice" collide within a room. Display names are still stored
// and reported exactly as given.
func WithCaseInsensitiveNames() Option {
	return func(r *Registry) {
		r.foldNames = true
	}
}

// Registry owns every presence record of the process. It is safe for
// concurrent use; all mutations are serialized by a single mutex.
type Registry struct {
	mu        sync.RWMutex
	byConn    map[string]Record
	rooms     map[string]*roomIndex
	foldNames bool
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byConn: make(map[string]Record),
		rooms:  make(map[string]*roomIndex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add creates the presence record for connID. Name and room are trimmed of
// surrounding whitespace before validation and storage. The registry is left
// untouched when an error is returned.
func (r *Registry) Add(connID, name, room string) (Record, error) {
	name = strings.TrimSpace(name)
	room = strings.TrimSpace(room)
	if connID == "" || name == "" || room == "" {
		return Record{}, ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[connID]; exists {
		return Record{}, ErrAlreadyPresent
	}

	key := r.nameKey(name)
	idx := r.rooms[room]
	if idx != nil && idx.holds(key) {
		return Record{}, ErrDuplicateName
	}

	if idx == nil {
		idx = newRoomIndex()
		r.rooms[room] = idx
	}

	rec := Record{ConnID: connID, Name: name, Room: room}
	r.byConn[connID] = rec
	idx.add(connID, key)
	return rec, nil
}

// Remove deletes the record for connID and returns it. Removing an unknown
// connection returns false and has no effect.
func (r *Registry) Remove(connID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byConn[connID]
	if !ok {
		return Record{}, false
	}
	delete(r.byConn, connID)

	if idx := r.rooms[rec.Room]; idx != nil {
		idx.remove(connID, r.nameKey(rec.Name))
		if idx.empty() {
			delete(r.rooms, rec.Room)
		}
	}
	return rec, true
}

// Get returns the record for connID.
func (r *Registry) Get(connID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byConn[connID]
	return rec, ok
}

// Members returns the members of room in join order. An unknown or empty
// room yields an empty, non-nil slice.
func (r *Registry) Members(room string) []Member {
	room = strings.TrimSpace(room)

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.rooms[room]
	if idx == nil {
		return []Member{}
	}
	out := make([]Member, 0, len(idx.order))
	for _, connID := range idx.order {
		rec := r.byConn[connID]
		out = append(out, Member{Name: rec.Name, Room: rec.Room})
	}
	return out
}

// Rooms lists every non-empty room sorted by key.
func (r *Registry) Rooms() []RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RoomSummary, 0, len(r.rooms))
	for room, idx := range r.rooms {
		out = append(out, RoomSummary{Room: room, Members: len(idx.order)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Len returns the number of live presence records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) nameKey(name string) string {
	if r.foldNames {
		return strings.ToLower(name)
	}
	return name
}
