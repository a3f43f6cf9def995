package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RustamovAkrom/minichat/internal/config"
	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/internal/metrics"
	"github.com/RustamovAkrom/minichat/pkg/log"
)

// RedisBus fans events out across server processes through one redis
// pub/sub channel per room. Redis preserves publish order per channel, so
// the per-room FIFO guarantee holds cluster-wide. Local delivery reuses the
// same buffered-channel, drop-on-full discipline as the memory bus.
type RedisBus struct {
	client *redis.Client
	prefix string
	buffer int

	mu     sync.Mutex
	rooms  map[string]*redisRoom
	closed bool

	cancel context.CancelFunc
	ctx    context.Context
}

type redisRoom struct {
	pubsub *redis.PubSub
	conns  map[string]chan domain.Event
}

func NewRedisBus(cfg config.BusConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &RedisBus{
		client: client,
		prefix: cfg.ChannelPrefix,
		buffer: buffer,
		rooms:  make(map[string]*redisRoom),
		ctx:    ctx,
		cancel: stop,
	}, nil
}

func (b *RedisBus) channel(roomID string) string {
	return fmt.Sprintf("%s:%s", b.prefix, roomID)
}

func (b *RedisBus) Attach(roomID, connID string) (<-chan domain.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	room, ok := b.rooms[roomID]
	if !ok {
		pubsub := b.client.Subscribe(b.ctx, b.channel(roomID))
		room = &redisRoom{
			pubsub: pubsub,
			conns:  make(map[string]chan domain.Event),
		}
		b.rooms[roomID] = room
		go b.pump(roomID, pubsub)
	}

	ch := make(chan domain.Event, b.buffer)
	room.conns[connID] = ch
	return ch, nil
}

func (b *RedisBus) Detach(roomID, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[roomID]
	if !ok {
		return
	}
	if ch, ok := room.conns[connID]; ok {
		delete(room.conns, connID)
		close(ch)
	}
	if len(room.conns) == 0 {
		room.pubsub.Close()
		delete(b.rooms, roomID)
	}
}

func (b *RedisBus) Publish(ctx context.Context, roomID string, ev domain.Event) error {
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(roomID), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// pump drains one room's redis subscription into the local delivery
// channels. It exits when the subscription closes.
func (b *RedisBus) pump(roomID string, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var ev domain.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			l := log.L()
			l.Error().Str(log.FieldRoomID, roomID).Err(err).Msg("undecodable bus event")
			continue
		}

		b.mu.Lock()
		room, ok := b.rooms[roomID]
		if !ok {
			b.mu.Unlock()
			return
		}
		for connID, ch := range room.conns {
			select {
			case ch <- ev:
			default:
				metrics.EventsDropped.Inc()
				l := log.L()
				l.Warn().
					Str(log.FieldRoomID, roomID).
					Str(log.FieldConnID, connID).
					Str("event_type", string(ev.Type)).
					Msg("subscriber buffer full, event dropped")
			}
		}
		b.mu.Unlock()
	}
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.cancel()
	for roomID, room := range b.rooms {
		room.pubsub.Close()
		for _, ch := range room.conns {
			close(ch)
		}
		delete(b.rooms, roomID)
	}
	b.mu.Unlock()
	return b.client.Close()
}
