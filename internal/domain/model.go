package domain

import "time"

// RoomKind distinguishes 1:1 chats from group chats.
type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Role of a membership inside a room.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User is an opaque identity owned by the outer auth plane. The core only
// stores and compares IDs.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Anonymous reports whether the identity is usable for authorization.
func (u User) Anonymous() bool {
	return u.ID == ""
}

// Room is a chat context. Rooms are created by the outer admin plane,
// never by the core.
type Room struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Kind RoomKind `json:"kind"`
}

// Membership binds a user to a room with a role. Read-only authorization
// data as far as the core is concerned; unique per (room, user).
type Membership struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Message is a persisted chat message. Created on send, mutated only by its
// sender (edit, soft delete) or by a recipient's delivery (read set), never
// physically deleted.
type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text,omitempty"`
	// Attachment points at an externally stored file or voice payload.
	// Messages carry either text or an attachment reference.
	Attachment string   `json:"attachment,omitempty"`
	ReplyTo    string   `json:"reply_to,omitempty"`
	Seq        uint64   `json:"seq"`
	ReadBy     []string `json:"read_by,omitempty"`
	Edited     bool     `json:"edited"`
	Deleted    bool     `json:"deleted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReadByUser reports whether reader already acknowledged the message.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// PresenceState is the externally observable presence of a user.
type PresenceState struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}
