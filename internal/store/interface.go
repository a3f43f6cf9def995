package store

import (
	"context"

	"github.com/RustamovAkrom/minichat/internal/domain"
)

// MessageStore is the durable append-only store of chat messages per room.
// It persists only; publishing is the caller's responsibility, keeping
// storage and fan-out independently testable.
type MessageStore interface {
	// Append persists a new text message, assigning a strictly increasing
	// per-room sequence. Linearizable per room: if one Append returns
	// before another is called on the same room, its sequence is lower.
	Append(ctx context.Context, roomID string, sender domain.User, text, replyTo string) (domain.Message, error)

	// AppendStored admits a pre-persisted attachment message (file or
	// voice payload reference), assigning its room sequence. The caller
	// performs only the publish step afterwards.
	AppendStored(ctx context.Context, msg *domain.Message) error

	Get(ctx context.Context, messageID string) (domain.Message, error)

	// MarkRead records that reader acknowledged the message. Idempotent;
	// acknowledging an already-read message is a no-op success.
	MarkRead(ctx context.Context, messageID, reader string) error

	// MarkAllRead acknowledges every message in the room not sent by
	// reader. Bulk idempotent.
	MarkAllRead(ctx context.Context, roomID, reader string) error

	// UnreadCount counts messages in the room not sent by reader and not
	// yet acknowledged by reader. Soft-deleted messages are excluded.
	UnreadCount(ctx context.Context, roomID, reader string) (int, error)

	// Edit replaces the text of the editor's own message.
	Edit(ctx context.Context, messageID, editor, newText string) (domain.Message, error)

	// SoftDelete flags the editor's own message as deleted. Text remains
	// stored; deletion is logical, not physical.
	SoftDelete(ctx context.Context, messageID, editor string) (domain.Message, error)

	// List returns up to limit most recent messages in insertion order.
	// limit <= 0 returns everything.
	List(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
}
