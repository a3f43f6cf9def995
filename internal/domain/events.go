package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed enumeration of events carried by the broadcast
// bus. Dispatch is always an explicit switch on this tag.
type EventType string

const (
	EventChatMessage EventType = "chat_message"
	EventTyping      EventType = "typing"
	EventPresence    EventType = "presence"
)

// Event is the envelope fanned out to every subscriber of a room. The same
// JSON shape travels over the in-process bus and the redis bus.
type Event struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id"`
	SenderID  string          `json:"sender_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChatPayload carries one persisted message.
type ChatPayload struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
	ReplyTo  string `json:"reply_to,omitempty"`
	Seq      uint64 `json:"seq"`
	Edited   bool   `json:"edited"`
	Deleted  bool   `json:"deleted"`
}

// TypingPayload is transient and never persisted.
type TypingPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// PresencePayload reports an online/offline transition.
type PresencePayload struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// NewEvent wraps a typed payload into an envelope.
func NewEvent(t EventType, roomID, senderID string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		Type:      t,
		RoomID:    roomID,
		SenderID:  senderID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload decodes the envelope payload into v.
func (e Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// ChatEvent builds a chat_message event from a stored message.
func ChatEvent(m Message) (Event, error) {
	return NewEvent(EventChatMessage, m.RoomID, m.SenderID, ChatPayload{
		ID:       m.ID,
		UserID:   m.SenderID,
		Username: m.SenderName,
		Text:     m.Text,
		ReplyTo:  m.ReplyTo,
		Seq:      m.Seq,
		Edited:   m.Edited,
		Deleted:  m.Deleted,
	})
}

// TypingEvent builds a typing event for a user in a room.
func TypingEvent(roomID string, user User) (Event, error) {
	return NewEvent(EventTyping, roomID, user.ID, TypingPayload{
		UserID:   user.ID,
		Username: user.Name,
	})
}

// PresenceEvent builds a presence event from a tracker transition.
func PresenceEvent(roomID string, user User, state PresenceState) (Event, error) {
	return NewEvent(EventPresence, roomID, user.ID, PresencePayload{
		UserID:   user.ID,
		Username: user.Name,
		Online:   state.Online,
		LastSeen: state.LastSeen,
	})
}
