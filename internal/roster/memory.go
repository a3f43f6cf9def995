package roster

import (
	"context"
	"sync"

	"github.com/RustamovAkrom/minichat/internal/domain"
)

// MemoryRoster is an in-memory Roster used in tests and as a deterministic
// substitute for the external admin plane.
type MemoryRoster struct {
	mu      sync.RWMutex
	rooms   map[string]domain.Room
	members map[string]map[string]domain.Membership // roomID -> userID -> membership
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{
		rooms:   make(map[string]domain.Room),
		members: make(map[string]map[string]domain.Membership),
	}
}

func (r *MemoryRoster) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return room, nil
}

func (r *MemoryRoster) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[roomID][userID]
	return ok, nil
}

func (r *MemoryRoster) Members(ctx context.Context, roomID string) ([]domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Membership, 0, len(r.members[roomID]))
	for _, m := range r.members[roomID] {
		out = append(out, m)
	}
	return out, nil
}

func (r *MemoryRoster) SaveRoom(ctx context.Context, room domain.Room, members []domain.Membership) error {
	if err := validateRoom(room, members); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
	set := make(map[string]domain.Membership, len(members))
	for _, m := range members {
		set[m.UserID] = m
	}
	r.members[room.ID] = set
	return nil
}
