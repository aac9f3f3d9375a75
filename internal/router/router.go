package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/cybernetics/hackify-server/pkg/bus"
	"github.com/cybernetics/hackify-server/pkg/room"
	"github.com/cybernetics/hackify-server/pkg/session"
	"github.com/cybernetics/hackify-server/pkg/store"
	"github.com/cybernetics/hackify-server/pkg/transport"
)

// Router authorizes and dispatches inbound room actions, applies them to
// the state managers, and republishes the result on the event bus. It also
// owns the process-local roster: which connections sit in which room, used
// to fan bus events out to local sockets.
type Router struct {
	logger *slog.Logger
	rooms  *store.Rooms
	files  *store.Files
	open   *store.OpenFiles
	users  *store.Users
	bus    bus.Bus

	// origin identifies this process on the bus.
	origin string

	mu      sync.Mutex
	clients map[uuid.UUID]*Client
	rosters map[string]*roster
}

// roster is the set of local connections joined to one room, together with
// the bus subscription kept alive while the set is non-empty.
type roster struct {
	clients     map[uuid.UUID]*Client
	unsubscribe func()
}

func New(logger *slog.Logger, rooms *store.Rooms, files *store.Files, open *store.OpenFiles, users *store.Users, b bus.Bus) *Router {
	return &Router{
		logger:  logger.With(slog.String("component", "router")),
		rooms:   rooms,
		files:   files,
		open:    open,
		users:   users,
		bus:     b,
		origin:  uuid.NewString(),
		clients: make(map[uuid.UUID]*Client),
		rosters: make(map[string]*roster),
	}
}

// Attach registers a connection with its resolved identity and returns the
// per-connection client context.
func (r *Router) Attach(conn *transport.Connection, id session.Identity) *Client {
	c := newClient(conn, id)
	r.mu.Lock()
	r.clients[conn.ID()] = c
	r.mu.Unlock()
	return c
}

// ConnectionCount reports how many live local connections an identity
// holds. The connection-limit middleware consults it before upgrading.
func (r *Router) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.clients {
		if c.Identity.UserID == userID {
			count++
		}
	}
	return count
}

// HandleMessage is the transport callback: parse, dispatch, and convert
// errors into notices for the originating connection.
func (r *Router) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	r.mu.Lock()
	c, ok := r.clients[connID]
	r.mu.Unlock()
	if !ok {
		r.logger.Error("message from unregistered connection", slog.String("connID", connID.String()))
		return
	}

	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		r.sendError(c, "malformed message")
		return
	}

	if err := r.Dispatch(ctx, c, clientMsg.Event, clientMsg.Payload); err != nil {
		r.respondWithError(c, clientMsg.Event, err)
	}
}

// Dispatch routes one action. Every state-mutating action is authorized
// against the room's permission matrix before it touches a store.
func (r *Router) Dispatch(ctx context.Context, c *Client, event string, payload []byte) error {
	switch event {
	case EventJoinRoom:
		return r.handleJoinRoom(ctx, c, payload)
	case EventEditData:
		return r.handleEditData(ctx, c, payload)
	case EventNewChatMessage:
		return r.handleNewChatMessage(ctx, c, payload)
	case EventChangeUserID:
		return r.handleChangeUserID(ctx, c, payload)
	case EventSaveCurrentFile:
		return r.handleSaveCurrentFile(ctx, c)
	case EventChangeCurrentFile:
		return r.handleChangeCurrentFile(ctx, c, payload)
	case EventChangeRole:
		return r.handleChangeRole(ctx, c, payload)
	default:
		return fmt.Errorf("unknown event %q", event)
	}
}

// Disconnect removes the connection's presence and roster membership. It
// runs unconditionally on transport close; an edit racing the disconnect
// still lands, but the presence entry goes away now.
func (r *Router) Disconnect(ctx context.Context, connID uuid.UUID) {
	r.mu.Lock()
	c, ok := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()
	if !ok {
		return
	}

	roomName := c.Room()
	if roomName == "" {
		return
	}
	r.leaveRoom(ctx, c, roomName)
}

// leaveRoom detaches one connection from a room: roster first, then the
// presence entry. Presence is keyed by identity, not by connection, so the
// entry is removed (and "left" announced) only once the identity's last
// local connection in the room is gone.
func (r *Router) leaveRoom(ctx context.Context, c *Client, roomName string) {
	c.clearMembership()
	r.removeFromRoster(roomName, c.Conn.ID())

	if r.identityInRoom(roomName, c.Identity.UserID) {
		return
	}
	if err := r.users.Leave(ctx, roomName, c.Identity.UserID); err != nil {
		r.logger.Error("failed to remove presence on leave",
			slog.String("room", roomName),
			slog.String("user", c.Identity.UserID),
			slog.Any("error", err),
		)
	}
	r.publish(ctx, roomName, bus.KindPresence, presencePayload{
		UserID: c.Identity.UserID,
		Name:   c.Name(),
		Status: "left",
	})
}

// identityInRoom reports whether the identity still holds another local
// connection in the room's roster.
func (r *Router) identityInRoom(roomName, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ros, ok := r.rosters[roomName]
	if !ok {
		return false
	}
	for _, c := range ros.clients {
		if c.Identity.UserID == userID {
			return true
		}
	}
	return false
}

// --- roster management and bus fan-out ---

func (r *Router) addToRoster(roomName string, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ros, ok := r.rosters[roomName]
	if !ok {
		unsubscribe, err := r.bus.Subscribe(roomName, func(e bus.Event) { r.deliver(e) })
		if err != nil {
			return fmt.Errorf("subscribe to room %q: %w", roomName, err)
		}
		ros = &roster{clients: make(map[uuid.UUID]*Client), unsubscribe: unsubscribe}
		r.rosters[roomName] = ros
	}
	ros.clients[c.Conn.ID()] = c
	return nil
}

func (r *Router) removeFromRoster(roomName string, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ros, ok := r.rosters[roomName]
	if !ok {
		return
	}
	delete(ros.clients, connID)
	if len(ros.clients) == 0 {
		ros.unsubscribe()
		delete(r.rosters, roomName)
		r.logger.Debug("released room subscription", slog.String("room", roomName))
	}
}

// deliver fans one bus event out to every local connection in the room. It
// runs on the bus dispatch goroutine and must stay non-blocking, which the
// buffered transport send guarantees.
func (r *Router) deliver(e bus.Event) {
	if e.Kind == bus.KindRole {
		r.applyRoleChange(e)
	}

	msg, err := json.Marshal(ServerMessage{Event: string(e.Kind), Payload: e.Payload})
	if err != nil {
		r.logger.Error("failed to marshal bus event for fan-out", slog.Any("error", err))
		return
	}

	r.mu.Lock()
	ros, ok := r.rosters[e.Room]
	if !ok {
		r.mu.Unlock()
		return
	}
	conns := make([]*transport.Connection, 0, len(ros.clients))
	for _, c := range ros.clients {
		conns = append(conns, c.Conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Send(msg)
	}
}

// applyRoleChange updates the local role of any connection owned by the
// promoted identity. Role changes may originate on another process; going
// through the bus keeps every process's view consistent.
func (r *Router) applyRoleChange(e bus.Event) {
	userID := gjson.GetBytes(e.Payload, "userId").String()
	newRole := room.Role(gjson.GetBytes(e.Payload, "role").String())
	if userID == "" || newRole == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ros, ok := r.rosters[e.Room]
	if !ok {
		return
	}
	for _, c := range ros.clients {
		if c.Identity.UserID == userID {
			c.setRole(newRole)
		}
	}
}

// --- helpers ---

func (r *Router) publish(ctx context.Context, roomName string, kind bus.Kind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal event payload", slog.Any("error", err))
		return
	}
	event := bus.Event{Room: roomName, Kind: kind, Origin: r.origin, Payload: data}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Error("failed to publish event",
			slog.String("room", roomName),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
	}
}

func (r *Router) send(c *Client, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal response payload", slog.Any("error", err))
		return
	}
	msg, err := json.Marshal(ServerMessage{Event: event, Payload: data})
	if err != nil {
		r.logger.Error("failed to marshal response", slog.Any("error", err))
		return
	}
	c.Conn.Send(msg)
}

func (r *Router) sendError(c *Client, message string) {
	r.send(c, noticeError, map[string]string{"message": message})
}

// respondWithError converts a dispatch failure into the notice the
// originating connection sees. Denials and not-found conditions end here;
// they are never retried.
func (r *Router) respondWithError(c *Client, event string, err error) {
	var denied *room.DeniedError
	switch {
	case errors.As(err, &denied):
		r.logger.Info("action denied",
			slog.String("action", string(denied.Action)),
			slog.String("user", c.Identity.UserID),
		)
		r.send(c, noticePermissionDenied, map[string]string{"action": string(denied.Action)})
	case errors.Is(err, room.ErrNotFound):
		r.sendError(c, fmt.Sprintf("%s: not found", event))
	default:
		r.logger.Error("action failed",
			slog.String("event", event),
			slog.String("user", c.Identity.UserID),
			slog.Any("error", err),
		)
		r.sendError(c, fmt.Sprintf("%s: temporarily unavailable", event))
	}
}
