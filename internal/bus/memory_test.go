package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/internal/registry"
)

func typingEvent(t *testing.T, roomID, user string) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(domain.EventTyping, roomID, user, domain.TypingPayload{UserID: user})
	require.NoError(t, err)
	return ev
}

func TestPublishDeliversInFIFOOrder(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	b := NewMemoryBus(reg, 64)
	defer b.Close()

	ch, err := b.Attach("room-1", "conn-a")
	req.NoError(err)
	reg.Subscribe("room-1", "conn-a")

	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		ev, err := domain.NewEvent(domain.EventChatMessage, "room-1", "u1",
			domain.ChatPayload{ID: fmt.Sprintf("msg-%d", i), Seq: uint64(i + 1)})
		req.NoError(err)
		req.NoError(b.Publish(ctx, "room-1", ev))
	}

	for i := 0; i < n; i++ {
		select {
		case ev := <-ch:
			var p domain.ChatPayload
			req.NoError(ev.UnmarshalPayload(&p))
			req.Equal(uint64(i+1), p.Seq)
		case <-time.After(time.Second):
			t.Fatalf("event %d never delivered", i)
		}
	}
}

func TestSlowSubscriberDropIsIsolated(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	b := NewMemoryBus(reg, 2)
	defer b.Close()

	slow, err := b.Attach("room-1", "conn-slow")
	req.NoError(err)
	fast, err := b.Attach("room-1", "conn-fast")
	req.NoError(err)
	reg.Subscribe("room-1", "conn-slow")
	reg.Subscribe("room-1", "conn-fast")

	ctx := context.Background()
	const n = 5
	for i := 0; i < n; i++ {
		req.NoError(b.Publish(ctx, "room-1", typingEvent(t, "room-1", "u1")))
		// Keep the fast subscriber drained so its buffer never fills.
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved")
		}
	}

	// The slow subscriber holds only its buffer's worth; the rest were
	// dropped for it alone.
	req.Len(slow, 2)
}

func TestPublishReachesOnlyRoomSubscribers(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	b := NewMemoryBus(reg, 8)
	defer b.Close()

	a, err := b.Attach("room-1", "conn-a")
	req.NoError(err)
	other, err := b.Attach("room-2", "conn-b")
	req.NoError(err)
	reg.Subscribe("room-1", "conn-a")
	reg.Subscribe("room-2", "conn-b")

	req.NoError(b.Publish(context.Background(), "room-1", typingEvent(t, "room-1", "u1")))

	select {
	case <-a:
	case <-time.After(time.Second):
		t.Fatal("room-1 subscriber never got the event")
	}
	req.Empty(other)
}

func TestDetachClosesDeliveryChannel(t *testing.T) {
	req := require.New(t)
	reg := registry.New()
	b := NewMemoryBus(reg, 8)
	defer b.Close()

	ch, err := b.Attach("room-1", "conn-a")
	req.NoError(err)
	reg.Subscribe("room-1", "conn-a")

	b.Detach("room-1", "conn-a")
	_, open := <-ch
	req.False(open)

	// Detaching twice is a no-op.
	b.Detach("room-1", "conn-a")

	// Publishing after detach must not panic or block.
	req.NoError(b.Publish(context.Background(), "room-1", typingEvent(t, "room-1", "u1")))
}
