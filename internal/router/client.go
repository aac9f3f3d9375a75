package router

import (
	"sync"

	"github.com/cybernetics/hackify-server/pkg/room"
	"github.com/cybernetics/hackify-server/pkg/session"
	"github.com/cybernetics/hackify-server/pkg/transport"
)

// Client is the per-connection context threaded through every action
// handler: the transport connection, the identity the session bridge
// resolved, and the room standing the connection currently holds. There is
// no ambient per-socket state anywhere else.
type Client struct {
	Conn     *transport.Connection
	Identity session.Identity

	mu       sync.Mutex
	roomName string
	role     room.Role
	name     string
}

func newClient(conn *transport.Connection, id session.Identity) *Client {
	return &Client{
		Conn:     conn,
		Identity: id,
		name:     id.Name,
	}
}

// Room returns the room this connection has joined, or "".
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomName
}

// Role returns the connection's current role in its room. The bus handler
// updates it when a roleChanged event for this identity arrives, which may
// originate on another process.
func (c *Client) Role() room.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Name returns the connection's current display name.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) setMembership(roomName string, role room.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomName = roomName
	c.role = role
}

func (c *Client) setRole(role room.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
}

func (c *Client) setName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

func (c *Client) clearMembership() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomName = ""
	c.role = ""
}
