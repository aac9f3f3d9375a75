package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Local is the single-process bus: Publish calls every subscribed handler
// synchronously, so delivery is totally ordered. Only correct when all
// connections for a room live in this process.
type Local struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
	closed bool
	logger *slog.Logger

	// dispatchMu serializes handler execution without being held during
	// Subscribe, so handlers may register further subscriptions indirectly
	// without deadlocking.
	dispatchMu sync.Mutex
}

var _ Bus = (*Local)(nil)

func NewLocal(logger *slog.Logger) *Local {
	return &Local{
		subs:   make(map[string]map[int]Handler),
		logger: logger.With(slog.String("component", "bus_local")),
	}
}

// Publish dispatches inline. Racing publishers are serialized on the
// dispatch lock, which is what gives the single-process deployment its
// strict total order.
func (l *Local) Publish(_ context.Context, event Event) error {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()

	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.subs[event.Room]))
	for _, h := range l.subs[event.Room] {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (l *Local) Subscribe(roomName string, h Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subs[roomName] == nil {
		l.subs[roomName] = make(map[int]Handler)
	}
	id := l.nextID
	l.nextID++
	l.subs[roomName][id] = h
	l.logger.Debug("subscribed", slog.String("room", roomName), slog.Int("id", id))

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs[roomName], id)
		if len(l.subs[roomName]) == 0 {
			delete(l.subs, roomName)
		}
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = make(map[string]map[int]Handler)
	l.closed = true
	return nil
}
