// Package bus carries room-scoped events between every server process that
// has a connection into a room. The local variant dispatches in-process
// with strict total ordering; the Redis variant rides pub/sub so edits made
// on one process reach sockets hosted by another. Events published from the
// same origin for the same room arrive in publish order; no ordering is
// promised across origins.
package bus

import (
	"context"
	"encoding/json"
)

// Kind names the event categories a room can emit.
type Kind string

const (
	KindEdit        Kind = "edit"
	KindChat        Kind = "chat"
	KindPresence    Kind = "presenceChanged"
	KindRole        Kind = "roleChanged"
	KindCurrentFile Kind = "currentFileChanged"
	KindSave        Kind = "fileSaved"
	KindUserID      Kind = "userIdChanged"
)

// Event is one room-scoped notification. Origin identifies the publishing
// process so subscribers can reason about same-origin ordering.
type Event struct {
	Room    string          `json:"room"`
	Kind    Kind            `json:"kind"`
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// Handler receives events for a subscribed room. Handlers run on the bus's
// dispatch goroutine and must not block.
type Handler func(Event)

// Bus is the publish/subscribe contract shared by both variants.
type Bus interface {
	// Publish delivers the event to every subscriber of event.Room,
	// including subscribers on this process.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for a room's events and returns a
	// function that removes it.
	Subscribe(roomName string, h Handler) (unsubscribe func(), err error)

	Close() error
}
