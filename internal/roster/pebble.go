package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/pkg/log"
)

// PebbleRoster reads room and membership records from the shared pebble
// database. Key layout:
//
//	roomdef:<roomID>            -> Room JSON
//	member:<roomID>:<userID>    -> Membership JSON
type PebbleRoster struct {
	db *pebble.DB
}

func NewPebbleRoster(db *pebble.DB) *PebbleRoster {
	return &PebbleRoster{db: db}
}

func roomKey(roomID string) []byte {
	return []byte("roomdef:" + roomID)
}

func memberKey(roomID, userID string) []byte {
	return []byte("member:" + roomID + ":" + userID)
}

func (r *PebbleRoster) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	val, closer, err := r.db.Get(roomKey(roomID))
	if err == pebble.ErrNotFound {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer closer.Close()

	var room domain.Room
	if err := json.Unmarshal(val, &room); err != nil {
		return domain.Room{}, fmt.Errorf("invalid room record %s: %w", roomID, err)
	}
	return room, nil
}

func (r *PebbleRoster) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	_, closer, err := r.db.Get(memberKey(roomID, userID))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	closer.Close()
	return true, nil
}

func (r *PebbleRoster) Members(ctx context.Context, roomID string) ([]domain.Membership, error) {
	prefix := []byte("member:" + roomID + ":")
	iter, err := r.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer iter.Close()

	var out []domain.Membership
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m domain.Membership
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid membership record %s: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// SaveRoom writes a room and its memberships in one batch. It enforces the
// room-shape invariant: a private room has exactly two memberships, a group
// room at least one.
func (r *PebbleRoster) SaveRoom(ctx context.Context, room domain.Room, members []domain.Membership) error {
	if err := validateRoom(room, members); err != nil {
		return err
	}

	batch := r.db.NewBatch()
	defer batch.Close()

	roomData, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	if err := batch.Set(roomKey(room.ID), roomData, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	for _, m := range members {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal membership: %w", err)
		}
		if err := batch.Set(memberKey(room.ID, m.UserID), data, nil); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	l := log.L()
	l.Info().Str(log.FieldRoomID, room.ID).Int("members", len(members)).Msg("room saved")
	return nil
}

func validateRoom(room domain.Room, members []domain.Membership) error {
	switch room.Kind {
	case domain.RoomPrivate:
		if len(members) != 2 {
			return fmt.Errorf("private room %s must have exactly 2 members, got %d", room.ID, len(members))
		}
	case domain.RoomGroup:
		if len(members) < 1 {
			return fmt.Errorf("group room %s must have at least 1 member", room.ID)
		}
	default:
		return fmt.Errorf("unknown room kind %q", room.Kind)
	}
	for _, m := range members {
		if m.RoomID != room.ID {
			return fmt.Errorf("membership for %s does not belong to room %s", m.UserID, room.ID)
		}
	}
	return nil
}
