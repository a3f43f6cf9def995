package domain

// Client wire frames. The JSON field sets are the compatibility contract
// with existing clients; inbound frames carry no type tag and are
// dispatched on field presence.

// InboundFrame is either a typing notification ({"typing": true}) or a text
// message ({"message": "...", "reply_to": "..."}).
type InboundFrame struct {
	Typing  bool   `json:"typing,omitempty"`
	Message string `json:"message,omitempty" validate:"omitempty,max=4096"`
	ReplyTo string `json:"reply_to,omitempty" validate:"omitempty,uuid4"`
}

// ChatFrame delivers a chat message to a client.
type ChatFrame struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Message  string `json:"message"`
	Edited   bool   `json:"edited"`
	ReplyTo  string `json:"reply_to,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// TypingFrame delivers a typing notification.
type TypingFrame struct {
	Typing   bool   `json:"typing"`
	Username string `json:"username"`
}

// UnreadFrame delivers an updated unread count.
type UnreadFrame struct {
	UnreadCount int `json:"unread_count"`
}

// PresenceFrame delivers an online/offline transition.
type PresenceFrame struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// ErrorFrame reports a failure to the sending client only.
type ErrorFrame struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// NewErrorFrame builds an error frame from a wire code and detail text.
func NewErrorFrame(code, message string, retryable bool) *ErrorFrame {
	return &ErrorFrame{Error: code, Message: message, Retryable: retryable}
}

// Frame converts a chat payload to its client frame.
func (p ChatPayload) Frame() *ChatFrame {
	return &ChatFrame{
		ID:       p.ID,
		Username: p.Username,
		Message:  p.Text,
		Edited:   p.Edited,
		ReplyTo:  p.ReplyTo,
		Deleted:  p.Deleted,
	}
}

// Frame converts a typing payload to its client frame.
func (p TypingPayload) Frame() *TypingFrame {
	return &TypingFrame{Typing: true, Username: p.Username}
}

// Frame converts a presence payload to its client frame.
func (p PresencePayload) Frame() *PresenceFrame {
	f := &PresenceFrame{Username: p.Username, Online: p.Online}
	if !p.Online && !p.LastSeen.IsZero() {
		f.LastSeen = p.LastSeen.Unix()
	}
	return f
}
