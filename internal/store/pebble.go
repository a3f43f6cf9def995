package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/internal/metrics"
	"github.com/RustamovAkrom/minichat/internal/roster"
	"github.com/RustamovAkrom/minichat/pkg/log"
)

// PebbleStore implements MessageStore on a pebble database. Key layout:
//
//	room:<roomID>:msg:<seq, zero-padded to 20>  -> Message JSON
//	msgid:<messageID>                           -> room message key
//
// The zero-padded sequence keeps pebble's iteration order equal to append
// order, so reading a room prefix yields messages in insertion order.
type PebbleStore struct {
	db     *pebble.DB
	roster roster.Roster

	mu    sync.Mutex
	rooms map[string]*roomState
}

// roomState serializes sequence assignment and read-modify-write mutations
// for one room. Unrelated rooms never contend on it.
type roomState struct {
	mu     sync.Mutex
	seq    uint64
	loaded bool
}

func NewPebbleStore(db *pebble.DB, r roster.Roster) *PebbleStore {
	return &PebbleStore{
		db:     db,
		roster: r,
		rooms:  make(map[string]*roomState),
	}
}

func msgKey(roomID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("room:%s:msg:%020d", roomID, seq))
}

func msgPrefix(roomID string) []byte {
	return []byte("room:" + roomID + ":msg:")
}

func idxKey(messageID string) []byte {
	return []byte("msgid:" + messageID)
}

func (s *PebbleStore) room(roomID string) *roomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		rs = &roomState{}
		s.rooms[roomID] = rs
	}
	return rs
}

// loadSeq recovers the last assigned sequence from disk. Caller holds rs.mu.
func (s *PebbleStore) loadSeq(roomID string, rs *roomState) error {
	if rs.loaded {
		return nil
	}
	prefix := msgPrefix(roomID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		var m domain.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return fmt.Errorf("corrupt message at %s: %w", iter.Key(), err)
		}
		rs.seq = m.Seq
	}
	rs.loaded = true
	return iter.Error()
}

func (s *PebbleStore) Append(ctx context.Context, roomID string, sender domain.User, text, replyTo string) (domain.Message, error) {
	timer := prometheus.NewTimer(metrics.StoreSeconds.WithLabelValues("append"))
	defer timer.ObserveDuration()

	if _, err := s.roster.GetRoom(ctx, roomID); err != nil {
		return domain.Message{}, err
	}
	ok, err := s.roster.IsMember(ctx, roomID, sender.ID)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, domain.ErrNotMember
	}

	if replyTo != "" {
		target, err := s.Get(ctx, replyTo)
		if err != nil {
			// Only a missing target is a validation failure; store
			// errors keep their own code so the sender may retry.
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Message{}, domain.ErrReplyNotInRoom
			}
			return domain.Message{}, err
		}
		if target.RoomID != roomID {
			return domain.Message{}, domain.ErrReplyNotInRoom
		}
	}

	rs := s.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := s.loadSeq(roomID, rs); err != nil {
		return domain.Message{}, err
	}

	now := time.Now().UTC()
	msg := domain.Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Text:       text,
		ReplyTo:    replyTo,
		Seq:        rs.seq + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.put(msg); err != nil {
		return domain.Message{}, err
	}
	rs.seq = msg.Seq

	l := log.L()
	l.Debug().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldMsgID, msg.ID).
		Uint64(log.FieldSeq, msg.Seq).
		Msg("message appended")
	return msg, nil
}

func (s *PebbleStore) AppendStored(ctx context.Context, msg *domain.Message) error {
	timer := prometheus.NewTimer(metrics.StoreSeconds.WithLabelValues("append_stored"))
	defer timer.ObserveDuration()

	if _, err := s.roster.GetRoom(ctx, msg.RoomID); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	rs := s.room(msg.RoomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := s.loadSeq(msg.RoomID, rs); err != nil {
		return err
	}

	now := time.Now().UTC()
	msg.Seq = rs.seq + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	if err := s.put(*msg); err != nil {
		return err
	}
	rs.seq = msg.Seq
	return nil
}

// put writes the message and its ID index in one synced batch. Caller holds
// the room lock.
func (s *PebbleStore) put(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	key := msgKey(msg.RoomID, msg.Seq)
	if err := batch.Set(key, data, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := batch.Set(idxKey(msg.ID), key, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PebbleStore) Get(ctx context.Context, messageID string) (domain.Message, error) {
	key, closer, err := s.db.Get(idxKey(messageID))
	if err == pebble.ErrNotFound {
		return domain.Message{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	mk := append([]byte(nil), key...)
	closer.Close()

	val, closer, err := s.db.Get(mk)
	if err == pebble.ErrNotFound {
		return domain.Message{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer closer.Close()

	var msg domain.Message
	if err := json.Unmarshal(val, &msg); err != nil {
		return domain.Message{}, fmt.Errorf("corrupt message %s: %w", messageID, err)
	}
	return msg, nil
}

// mutate applies fn to a message under its room lock. fn returns false when
// nothing changed and the write should be skipped.
func (s *PebbleStore) mutate(ctx context.Context, messageID string, fn func(*domain.Message) (bool, error)) (domain.Message, error) {
	msg, err := s.Get(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}

	rs := s.room(msg.RoomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	// Re-read under the lock so concurrent mutations are not lost.
	msg, err = s.Get(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}

	changed, err := fn(&msg)
	if err != nil {
		return domain.Message{}, err
	}
	if !changed {
		return msg, nil
	}
	if err := s.put(msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (s *PebbleStore) MarkRead(ctx context.Context, messageID, reader string) error {
	timer := prometheus.NewTimer(metrics.StoreSeconds.WithLabelValues("mark_read"))
	defer timer.ObserveDuration()

	_, err := s.mutate(ctx, messageID, func(m *domain.Message) (bool, error) {
		if m.SenderID == reader || m.ReadByUser(reader) {
			return false, nil
		}
		m.ReadBy = append(m.ReadBy, reader)
		return true, nil
	})
	return err
}

func (s *PebbleStore) MarkAllRead(ctx context.Context, roomID, reader string) error {
	timer := prometheus.NewTimer(metrics.StoreSeconds.WithLabelValues("mark_all_read"))
	defer timer.ObserveDuration()

	msgs, err := s.List(ctx, roomID, 0)
	if err != nil {
		return err
	}
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID == reader || m.ReadByUser(reader) {
			continue
		}
		if err := s.MarkRead(ctx, m.ID, reader); err != nil {
			return err
		}
	}
	return nil
}

func (s *PebbleStore) UnreadCount(ctx context.Context, roomID, reader string) (int, error) {
	msgs, err := s.List(ctx, roomID, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range msgs {
		m := &msgs[i]
		if m.Deleted || m.SenderID == reader || m.ReadByUser(reader) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *PebbleStore) Edit(ctx context.Context, messageID, editor, newText string) (domain.Message, error) {
	timer := prometheus.NewTimer(metrics.StoreSeconds.WithLabelValues("edit"))
	defer timer.ObserveDuration()

	return s.mutate(ctx, messageID, func(m *domain.Message) (bool, error) {
		if m.SenderID != editor {
			return false, domain.ErrNotOwner
		}
		m.Text = newText
		m.Edited = true
		m.UpdatedAt = time.Now().UTC()
		return true, nil
	})
}

func (s *PebbleStore) SoftDelete(ctx context.Context, messageID, editor string) (domain.Message, error) {
	timer := prometheus.NewTimer(metrics.StoreSeconds.WithLabelValues("soft_delete"))
	defer timer.ObserveDuration()

	return s.mutate(ctx, messageID, func(m *domain.Message) (bool, error) {
		if m.SenderID != editor {
			return false, domain.ErrNotOwner
		}
		if m.Deleted {
			return false, nil
		}
		m.Deleted = true
		m.UpdatedAt = time.Now().UTC()
		return true, nil
	})
}

func (s *PebbleStore) List(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	prefix := msgPrefix(roomID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer iter.Close()

	var out []domain.Message
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m domain.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("corrupt message at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
