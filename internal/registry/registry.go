package registry

import (
	"sort"
	"sync"

	"github.com/RustamovAkrom/minichat/pkg/log"
)

// Registry maps rooms to the connections currently subscribed to them.
// A connection is in at most one room at a time; subscribing to a new room
// moves it. Subscriber sets carry their own locks so mutations in one room
// never block lookups in another.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*roomSet
	byConn map[string]string // connID -> roomID
}

type roomSet struct {
	mu    sync.RWMutex
	conns map[string]struct{}
}

func New() *Registry {
	return &Registry{
		rooms:  make(map[string]*roomSet),
		byConn: make(map[string]string),
	}
}

// Subscribe adds the connection to the room's subscriber set. Idempotent;
// if the connection was subscribed elsewhere it is moved.
func (r *Registry) Subscribe(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok {
		if prev == roomID {
			return
		}
		r.removeLocked(prev, connID)
	}

	set, ok := r.rooms[roomID]
	if !ok {
		set = &roomSet{conns: make(map[string]struct{})}
		r.rooms[roomID] = set
	}
	set.mu.Lock()
	set.conns[connID] = struct{}{}
	set.mu.Unlock()
	r.byConn[connID] = roomID

	l := log.L()
	l.Debug().Str(log.FieldRoomID, roomID).Str(log.FieldConnID, connID).Msg("connection subscribed")
}

// Unsubscribe removes the connection from the room. No-op if absent.
func (r *Registry) Unsubscribe(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byConn[connID] != roomID {
		return
	}
	r.removeLocked(roomID, connID)
	delete(r.byConn, connID)

	l := log.L()
	l.Debug().Str(log.FieldRoomID, roomID).Str(log.FieldConnID, connID).Msg("connection unsubscribed")
}

// removeLocked drops the connection from a room set. Caller holds r.mu.
func (r *Registry) removeLocked(roomID, connID string) {
	set, ok := r.rooms[roomID]
	if !ok {
		return
	}
	set.mu.Lock()
	delete(set.conns, connID)
	empty := len(set.conns) == 0
	set.mu.Unlock()
	if empty {
		delete(r.rooms, roomID)
	}
}

// Members returns a sorted snapshot of the room's subscriber set.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	set, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	set.mu.RLock()
	out := make([]string, 0, len(set.conns))
	for id := range set.conns {
		out = append(out, id)
	}
	set.mu.RUnlock()

	sort.Strings(out)
	return out
}

// RoomOf reports which room the connection is subscribed to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.byConn[connID]
	return roomID, ok
}
