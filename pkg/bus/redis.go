package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/cybernetics/hackify-server/pkg/backend"
)

const channelPrefix = "hackify:room:"

// Redis is the multi-process bus. Each room maps to one pub/sub channel;
// every process with a subscriber for the room holds one PubSub receiving
// that channel and fans events out to its local handlers. Redis delivers
// messages from a single publishing connection in publish order, which is
// exactly the same-origin ordering guarantee the contract asks for.
type Redis struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	rooms  map[string]*redisRoomSub
	closed bool
}

type redisRoomSub struct {
	pubsub   *redis.PubSub
	handlers map[int]Handler
	cancel   context.CancelFunc
}

var _ Bus = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		logger: logger.With(slog.String("component", "bus_redis")),
		rooms:  make(map[string]*redisRoomSub),
	}
}

func channelFor(roomName string) string {
	return channelPrefix + roomName
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for room %q: %w", event.Room, err)
	}
	if err := r.client.Publish(ctx, channelFor(event.Room), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Subscribe(roomName string, h Handler) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub, ok := r.rooms[roomName]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		pubsub := r.client.Subscribe(ctx, channelFor(roomName))
		sub = &redisRoomSub{
			pubsub:   pubsub,
			handlers: make(map[int]Handler),
			cancel:   cancel,
		}
		r.rooms[roomName] = sub
		go r.receive(roomName, sub)
	}

	id := r.nextID
	r.nextID++
	sub.handlers[id] = h
	r.logger.Debug("subscribed", slog.String("room", roomName), slog.Int("id", id))

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		s, ok := r.rooms[roomName]
		if !ok {
			return
		}
		delete(s.handlers, id)
		if len(s.handlers) == 0 {
			s.cancel()
			s.pubsub.Close()
			delete(r.rooms, roomName)
			r.logger.Debug("room channel released", slog.String("room", roomName))
		}
	}, nil
}

// receive pumps one room's channel to its local handlers, in arrival order.
func (r *Redis) receive(roomName string, sub *redisRoomSub) {
	for msg := range sub.pubsub.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			r.logger.Warn("dropping malformed bus event",
				slog.String("room", roomName),
				slog.Any("error", err),
			)
			continue
		}

		r.mu.Lock()
		handlers := make([]Handler, 0, len(sub.handlers))
		for _, h := range sub.handlers {
			handlers = append(handlers, h)
		}
		r.mu.Unlock()

		for _, h := range handlers {
			h(event)
		}
	}
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, sub := range r.rooms {
		sub.cancel()
		sub.pubsub.Close()
		delete(r.rooms, name)
	}
	r.closed = true
	return nil
}
