package bus

import (
	"context"
	"sync"

	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/internal/metrics"
	"github.com/RustamovAkrom/minichat/internal/registry"
	"github.com/RustamovAkrom/minichat/pkg/log"
)

// MemoryBus delivers events in-process. The room registry decides who is
// subscribed; the bus owns one buffered channel per connection. A per-room
// publish mutex keeps fan-out order equal to publish order, so the store's
// per-room sequence order survives end-to-end.
type MemoryBus struct {
	reg    *registry.Registry
	buffer int

	smu  sync.RWMutex
	subs map[string]chan domain.Event // connID -> delivery channel

	pmu   sync.Mutex
	rooms map[string]*sync.Mutex // roomID -> publish order lock
}

func NewMemoryBus(reg *registry.Registry, buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{
		reg:    reg,
		buffer: buffer,
		subs:   make(map[string]chan domain.Event),
		rooms:  make(map[string]*sync.Mutex),
	}
}

func (b *MemoryBus) roomLock(roomID string) *sync.Mutex {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	mu, ok := b.rooms[roomID]
	if !ok {
		mu = &sync.Mutex{}
		b.rooms[roomID] = mu
	}
	return mu
}

func (b *MemoryBus) Attach(roomID, connID string) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, b.buffer)
	b.smu.Lock()
	b.subs[connID] = ch
	b.smu.Unlock()
	return ch, nil
}

func (b *MemoryBus) Detach(roomID, connID string) {
	b.smu.Lock()
	defer b.smu.Unlock()
	if ch, ok := b.subs[connID]; ok {
		delete(b.subs, connID)
		// Publishers send only while holding the read lock, so closing
		// here cannot race a send.
		close(ch)
	}
}

func (b *MemoryBus) Publish(ctx context.Context, roomID string, ev domain.Event) error {
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	mu := b.roomLock(roomID)
	mu.Lock()
	defer mu.Unlock()

	members := b.reg.Members(roomID)

	b.smu.RLock()
	defer b.smu.RUnlock()
	for _, connID := range members {
		ch, ok := b.subs[connID]
		if !ok {
			continue
		}
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop for this one connection rather
			// than stalling the room.
			metrics.EventsDropped.Inc()
			l := log.L()
			l.Warn().
				Str(log.FieldRoomID, roomID).
				Str(log.FieldConnID, connID).
				Str("event_type", string(ev.Type)).
				Msg("subscriber buffer full, event dropped")
		}
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.smu.Lock()
	defer b.smu.Unlock()
	for connID, ch := range b.subs {
		delete(b.subs, connID)
		close(ch)
	}
	return nil
}
