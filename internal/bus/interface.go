package bus

import (
	"context"

	"github.com/RustamovAkrom/minichat/internal/domain"
)

// Bus is the publish/subscribe fabric that fans an event out to every
// connection subscribed to a room. Delivery is FIFO per room in publish
// order and at-least-once to each live subscriber; there is no ordering
// guarantee across rooms and no replay. Publish never blocks on a slow
// subscriber: when a subscriber's buffer is full the event is dropped for
// that subscriber only.
type Bus interface {
	// Attach creates the delivery channel for a connection in a room.
	Attach(roomID, connID string) (<-chan domain.Event, error)

	// Detach tears the delivery channel down and closes it. Idempotent.
	Detach(roomID, connID string)

	// Publish fans the event out to the room's subscribers.
	Publish(ctx context.Context, roomID string, ev domain.Event) error

	Close() error
}
