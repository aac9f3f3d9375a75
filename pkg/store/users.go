package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cybernetics/hackify-server/pkg/backend"
	"github.com/cybernetics/hackify-server/pkg/room"
)

const collUsers = "users"

// Users tracks which identities are present in each room and the role each
// one holds.
type Users struct {
	backend backend.Store
	logger  *slog.Logger

	// membership serializes join/leave/role changes per (room, identity) so
	// a rejoin racing a leave cannot resurrect a half-written entry.
	membership *keyedMutex
}

func NewUsers(b backend.Store, logger *slog.Logger) *Users {
	return &Users{
		backend:    b,
		logger:     logger.With(slog.String("component", "users_manager")),
		membership: newKeyedMutex(),
	}
}

func presenceKey(roomName, userID string) string {
	return roomName + "/" + userID
}

// Join records the identity's presence in the room. Presenting the room's
// moderator pass grants the moderator role; everyone else starts as
// default.
func (u *Users) Join(ctx context.Context, r *room.Room, userID, displayName, moderatorPass string) (room.Presence, error) {
	role := room.RoleDefault
	if moderatorPass != "" && moderatorPass == r.ModeratorPass {
		role = room.RoleModerator
	}

	p := room.Presence{UserID: userID, Name: displayName, Role: role}
	key := presenceKey(r.Name, userID)
	u.membership.lock(key)
	defer u.membership.unlock(key)

	if err := u.write(ctx, r.Name, p); err != nil {
		return room.Presence{}, err
	}
	u.logger.Debug("user joined",
		slog.String("room", r.Name),
		slog.String("user", userID),
		slog.String("role", string(role)),
	)
	return p, nil
}

// Leave removes the identity's presence. Leaving a room the identity is not
// in is not an error; disconnects race with everything.
func (u *Users) Leave(ctx context.Context, roomName, userID string) error {
	key := presenceKey(roomName, userID)
	u.membership.lock(key)
	defer u.membership.unlock(key)

	return u.backend.Delete(ctx, collUsers, key)
}

func (u *Users) Get(ctx context.Context, roomName, userID string) (room.Presence, error) {
	value, err := u.backend.Get(ctx, collUsers, presenceKey(roomName, userID))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return room.Presence{}, room.ErrNotFound
		}
		return room.Presence{}, err
	}
	var p room.Presence
	if err := json.Unmarshal(value, &p); err != nil {
		return room.Presence{}, fmt.Errorf("unmarshal presence %s/%s: %w", roomName, userID, err)
	}
	return p, nil
}

// ChangeRole reassigns the identity's role in the room.
func (u *Users) ChangeRole(ctx context.Context, roomName, userID string, newRole room.Role) (room.Presence, error) {
	key := presenceKey(roomName, userID)
	u.membership.lock(key)
	defer u.membership.unlock(key)

	p, err := u.Get(ctx, roomName, userID)
	if err != nil {
		return room.Presence{}, err
	}
	p.Role = newRole
	if err := u.write(ctx, roomName, p); err != nil {
		return room.Presence{}, err
	}
	u.logger.Info("role changed",
		slog.String("room", roomName),
		slog.String("user", userID),
		slog.String("role", string(newRole)),
	)
	return p, nil
}

// Rename updates the identity's display name.
func (u *Users) Rename(ctx context.Context, roomName, userID, newName string) (room.Presence, error) {
	key := presenceKey(roomName, userID)
	u.membership.lock(key)
	defer u.membership.unlock(key)

	p, err := u.Get(ctx, roomName, userID)
	if err != nil {
		return room.Presence{}, err
	}
	p.Name = newName
	if err := u.write(ctx, roomName, p); err != nil {
		return room.Presence{}, err
	}
	return p, nil
}

// ListUsers returns every presence entry for the room.
func (u *Users) ListUsers(ctx context.Context, roomName string) ([]room.Presence, error) {
	keys, err := u.backend.Keys(ctx, collUsers)
	if err != nil {
		return nil, err
	}
	prefix := roomName + "/"
	var users []room.Presence
	for _, k := range keys {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		value, err := u.backend.Get(ctx, collUsers, k)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				continue // removed between Keys and Get
			}
			return nil, err
		}
		var p room.Presence
		if err := json.Unmarshal(value, &p); err != nil {
			return nil, fmt.Errorf("unmarshal presence %s: %w", k, err)
		}
		users = append(users, p)
	}
	return users, nil
}

// ResetRoom drops every presence entry for the room.
func (u *Users) ResetRoom(ctx context.Context, roomName string) error {
	u.logger.Debug("resetting presence", slog.String("room", roomName))
	return u.backend.ResetPrefix(ctx, collUsers, roomName+"/")
}

func (u *Users) write(ctx context.Context, roomName string, p room.Presence) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal presence %s/%s: %w", roomName, p.UserID, err)
	}
	return u.backend.Set(ctx, collUsers, presenceKey(roomName, p.UserID), value)
}
