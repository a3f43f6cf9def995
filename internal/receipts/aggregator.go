package receipts

import (
	"context"

	"github.com/RustamovAkrom/minichat/internal/store"
)

// Aggregator computes and reports unread counts after delivery. It exists
// to pin the ordering contract: the count handed to a client is always
// computed after the mark-read side effect of the triggering message.
type Aggregator struct {
	store store.MessageStore
}

func NewAggregator(s store.MessageStore) *Aggregator {
	return &Aggregator{store: s}
}

// Acknowledge marks the delivered message read for the reader, then
// recomputes the reader's unread count, strictly in that order.
func (a *Aggregator) Acknowledge(ctx context.Context, messageID, roomID, reader string) (int, error) {
	if err := a.store.MarkRead(ctx, messageID, reader); err != nil {
		return 0, err
	}
	return a.store.UnreadCount(ctx, roomID, reader)
}

// Resync returns the reader's current unread count on room entry or
// reconnect.
func (a *Aggregator) Resync(ctx context.Context, roomID, reader string) (int, error) {
	return a.store.UnreadCount(ctx, roomID, reader)
}

// CatchUp acknowledges everything in the room for the reader and returns
// the resulting count (always zero on success).
func (a *Aggregator) CatchUp(ctx context.Context, roomID, reader string) (int, error) {
	if err := a.store.MarkAllRead(ctx, roomID, reader); err != nil {
		return 0, err
	}
	return a.store.UnreadCount(ctx, roomID, reader)
}
