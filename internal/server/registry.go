// Package server tracks the set of known rooms and the room membership of
// every live connection via the Registry type.
package server

import (
	"errors"
	"strings"
	"sync"
)

// Registry errors reported to callers and translated into protocol error
// responses by the dispatch layer.
var (
	ErrEmptyRoomName = errors.New("room name cannot be empty")
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room does not exist")
)

// Registry owns the room-name set and the connection-to-room membership
// index. It holds pure state only, never transports, and every operation is
// safe for concurrent use from multiple connection goroutines.
//
// Rooms are never deleted once created, even after all members leave. A
// previously created room therefore stays joinable for the process lifetime.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]struct{}
	memberRoom  map[string]string
	roomMembers map[string]map[string]struct{}
}

// NewRegistry creates an empty Registry. Each Hub is wired with its own
// instance; there is no process-wide shared registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[string]struct{}),
		memberRoom:  make(map[string]string),
		roomMembers: make(map[string]map[string]struct{}),
	}
}

// CreateRoom registers a new room name. It returns ErrEmptyRoomName if the
// name is empty or whitespace-only and ErrRoomExists if the name is already
// registered. The caller is responsible for joining the creator afterwards.
func (r *Registry) CreateRoom(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyRoomName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[name]; exists {
		return ErrRoomExists
	}

	r.rooms[name] = struct{}{}
	return nil
}

// JoinRoom records the membership of the given connection ID in the given
// room, replacing any previous membership (last successful join wins). It
// returns ErrRoomNotFound if the room was never created. The same operation
// records the creator's automatic membership after CreateRoom.
func (r *Registry) JoinRoom(id, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room]; !exists {
		return ErrRoomNotFound
	}

	r.removeMembershipLocked(id)

	r.memberRoom[id] = room
	members, ok := r.roomMembers[room]
	if !ok {
		members = make(map[string]struct{})
		r.roomMembers[room] = members
	}
	members[id] = struct{}{}
	return nil
}

// Leave removes any membership recorded for the given connection ID. It is a
// no-op when the connection never joined a room and is safe to call more
// than once for the same connection.
func (r *Registry) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeMembershipLocked(id)
}

// removeMembershipLocked drops both sides of the membership index. Callers
// must hold the write lock.
func (r *Registry) removeMembershipLocked(id string) {
	room, ok := r.memberRoom[id]
	if !ok {
		return
	}

	delete(r.memberRoom, id)
	if members, ok := r.roomMembers[room]; ok {
		delete(members, id)
	}
}

// RoomOf returns the room the given connection ID currently belongs to. The
// second return value is false when the connection is not in any room.
func (r *Registry) RoomOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.memberRoom[id]
	return room, ok
}

// HasRoom reports whether the given room name has been created.
func (r *Registry) HasRoom(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[name]
	return ok
}

// MembersOf returns a snapshot of the connection IDs currently in the given
// room, excluding the given ID. The returned slice is independent of the
// internal index and safe to iterate while other goroutines mutate the
// registry. Order is unspecified.
func (r *Registry) MembersOf(room, excluding string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return nil
	}

	snapshot := make([]string, 0, len(members))
	for id := range members {
		if id == excluding {
			continue
		}
		snapshot = append(snapshot, id)
	}
	return snapshot
}

// Stats returns the number of known rooms and the number of active
// memberships, for the stats endpoint and shutdown logging.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms), len(r.memberRoom)
}
