package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RustamovAkrom/minichat/internal/bus"
	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/internal/presence"
	"github.com/RustamovAkrom/minichat/internal/receipts"
	"github.com/RustamovAkrom/minichat/internal/registry"
	"github.com/RustamovAkrom/minichat/internal/roster"
	"github.com/RustamovAkrom/minichat/internal/store"
	"github.com/RustamovAkrom/minichat/pkg/log"
)

// ErrAuthFailed refuses a connection whose identity is anonymous or not a
// member of the requested room.
var ErrAuthFailed = errors.New("authorization failed")

// Chat orchestrates the delivery core: it binds the message store, the
// broadcast bus, the room registry, the presence tracker and the read
// receipt aggregator together. Sessions never touch each other's state;
// everything cross-connection goes through here.
type Chat struct {
	store    store.MessageStore
	bus      bus.Bus
	registry *registry.Registry
	presence *presence.Tracker
	receipts *receipts.Aggregator
	roster   roster.Roster

	// Per-room send locks pin publish order to store sequence order. A
	// slow append in one room only delays senders in that room.
	mu    sync.Mutex
	rooms map[string]*sync.Mutex
}

func NewChat(s store.MessageStore, b bus.Bus, reg *registry.Registry, p *presence.Tracker, r roster.Roster) *Chat {
	return &Chat{
		store:    s,
		bus:      b,
		registry: reg,
		presence: p,
		receipts: receipts.NewAggregator(s),
		roster:   r,
		rooms:    make(map[string]*sync.Mutex),
	}
}

// Receipts exposes the read receipt aggregator to sessions.
func (c *Chat) Receipts() *receipts.Aggregator {
	return c.receipts
}

func (c *Chat) sendLock(roomID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.rooms[roomID]
	if !ok {
		mu = &sync.Mutex{}
		c.rooms[roomID] = mu
	}
	return mu
}

// Authorize checks that the identity may join the room. The roster is the
// external source of truth; the core never widens it.
func (c *Chat) Authorize(ctx context.Context, roomID string, user domain.User) error {
	if user.Anonymous() {
		return ErrAuthFailed
	}
	if _, err := c.roster.GetRoom(ctx, roomID); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	ok, err := c.roster.IsMember(ctx, roomID, user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuthFailed
	}
	return nil
}

// Join subscribes an authorized connection to its room, attaches its
// delivery channel, and flips the user online. The offline-to-online
// transition is broadcast to the room.
func (c *Chat) Join(ctx context.Context, roomID, connID string, user domain.User) (<-chan domain.Event, error) {
	events, err := c.bus.Attach(roomID, connID)
	if err != nil {
		return nil, err
	}
	c.registry.Subscribe(roomID, connID)

	state, transitioned := c.presence.SetOnline(user.ID)
	if transitioned {
		c.publishPresence(ctx, roomID, user, state)
	}

	l := log.L()
	l.Info().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldConnID, connID).
		Str(log.FieldUserID, user.ID).
		Msg("session joined room")
	return events, nil
}

// Leave unwinds Join: detach, unsubscribe, and mark offline. The last
// disconnect for the user is always broadcast. Safe to call once per
// connection; the session guards it with sync.Once.
func (c *Chat) Leave(ctx context.Context, roomID, connID string, user domain.User) {
	c.bus.Detach(roomID, connID)
	c.registry.Unsubscribe(roomID, connID)

	state, transitioned := c.presence.SetOffline(user.ID)
	if transitioned {
		c.publishPresence(ctx, roomID, user, state)
	}

	l := log.L()
	l.Info().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldConnID, connID).
		Str(log.FieldUserID, user.ID).
		Msg("session left room")
}

// SendText persists a message and broadcasts it. Append and publish happen
// under the room's send lock, so bus delivery order equals the store's
// sequence order for every subscriber.
func (c *Chat) SendText(ctx context.Context, roomID string, sender domain.User, text, replyTo string) (domain.Message, error) {
	mu := c.sendLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := c.store.Append(ctx, roomID, sender, text, replyTo)
	if err != nil {
		return domain.Message{}, err
	}

	ev, err := domain.ChatEvent(msg)
	if err != nil {
		return domain.Message{}, err
	}
	if err := c.bus.Publish(ctx, roomID, ev); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// Typing broadcasts a transient typing notification. Nothing is persisted
// and unread counts are untouched.
func (c *Chat) Typing(ctx context.Context, roomID string, user domain.User) error {
	ev, err := domain.TypingEvent(roomID, user)
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, roomID, ev)
}

// PublishStored broadcasts a message that the outer plane already
// persisted, such as a file or voice attachment record. The core performs
// only the sequence assignment and the publish step.
func (c *Chat) PublishStored(ctx context.Context, msg *domain.Message) error {
	mu := c.sendLock(msg.RoomID)
	mu.Lock()
	defer mu.Unlock()

	if err := c.store.AppendStored(ctx, msg); err != nil {
		return err
	}
	ev, err := domain.ChatEvent(*msg)
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, msg.RoomID, ev)
}

// EditMessage rewrites the editor's own message and broadcasts the edited
// version to the room.
func (c *Chat) EditMessage(ctx context.Context, messageID string, editor domain.User, newText string) (domain.Message, error) {
	msg, err := c.store.Edit(ctx, messageID, editor.ID, newText)
	if err != nil {
		return domain.Message{}, err
	}
	ev, err := domain.ChatEvent(msg)
	if err != nil {
		return domain.Message{}, err
	}
	if err := c.bus.Publish(ctx, msg.RoomID, ev); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// DeleteMessage soft-deletes the editor's own message and broadcasts the
// tombstone. Stored text is flagged, never redacted.
func (c *Chat) DeleteMessage(ctx context.Context, messageID string, editor domain.User) (domain.Message, error) {
	msg, err := c.store.SoftDelete(ctx, messageID, editor.ID)
	if err != nil {
		return domain.Message{}, err
	}
	ev, err := domain.ChatEvent(msg)
	if err != nil {
		return domain.Message{}, err
	}
	if err := c.bus.Publish(ctx, msg.RoomID, ev); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// MarkRoomRead acknowledges the whole room for the reader, for the outer
// plane's "open chat" action. Returns the resulting unread count.
func (c *Chat) MarkRoomRead(ctx context.Context, roomID string, reader domain.User) (int, error) {
	return c.receipts.CatchUp(ctx, roomID, reader.ID)
}

// History returns the most recent messages for replay on (re)connect.
func (c *Chat) History(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	return c.store.List(ctx, roomID, limit)
}

func (c *Chat) publishPresence(ctx context.Context, roomID string, user domain.User, state domain.PresenceState) {
	ev, err := domain.PresenceEvent(roomID, user, state)
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, roomID, ev); err != nil {
		l := log.L()
		l.Error().Str(log.FieldRoomID, roomID).Err(err).Msg("presence broadcast failed")
	}
}
