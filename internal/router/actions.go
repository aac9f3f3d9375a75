package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/cybernetics/hackify-server/pkg/authz"
	"github.com/cybernetics/hackify-server/pkg/bus"
	"github.com/cybernetics/hackify-server/pkg/room"
)

type presencePayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status"`
}

type editPayload struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
	UserID   string `json:"userId"`
}

type chatPayload struct {
	Text   string `json:"text"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type rolePayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type filePayload struct {
	FileName string `json:"fileName"`
	UserID   string `json:"userId"`
}

type renamePayload struct {
	UserID  string `json:"userId"`
	NewName string `json:"newName"`
}

type roomJoinedPayload struct {
	Room        string          `json:"room"`
	Role        string          `json:"role"`
	Files       []string        `json:"files"`
	CurrentFile string          `json:"currentFile,omitempty"`
	Users       []room.Presence `json:"users"`
}

// handleJoinRoom binds the connection to a room. Rooms are created on first
// join with the default permission matrix; the payload may carry the
// moderator pass to claim the moderator role.
func (r *Router) handleJoinRoom(ctx context.Context, c *Client, payload []byte) error {
	roomName := gjson.GetBytes(payload, "room").String()
	if roomName == "" {
		return errors.New("joinRoom: room name is required")
	}
	moderatorPass := gjson.GetBytes(payload, "moderatorPass").String()

	// A connection sits in at most one room. Joining another room is an
	// implicit leave of the previous one, presence and roster included.
	if prev := c.Room(); prev != "" && prev != roomName {
		r.leaveRoom(ctx, c, prev)
	}

	rm, err := r.rooms.Get(ctx, roomName)
	if errors.Is(err, room.ErrNotFound) {
		rm = &room.Room{Name: roomName, AuthMap: room.DefaultAuthMap()}
		if err := r.rooms.Set(ctx, rm); err != nil {
			return fmt.Errorf("create room %q: %w", roomName, err)
		}
		r.logger.Info("room created on first join", slog.String("room", roomName))
	} else if err != nil {
		return err
	}

	p, err := r.users.Join(ctx, rm, c.Identity.UserID, c.Name(), moderatorPass)
	if err != nil {
		return fmt.Errorf("join room %q: %w", roomName, err)
	}
	c.setMembership(roomName, p.Role)

	// The first moderator to arrive acts as host until reset.
	if p.Role == room.RoleModerator && rm.HostConn == "" {
		rm.HostConn = c.Conn.ID().String()
		if err := r.rooms.Set(ctx, rm); err != nil {
			r.logger.Warn("failed to record host connection", slog.String("room", roomName), slog.Any("error", err))
		}
	}

	if err := r.addToRoster(roomName, c); err != nil {
		return err
	}

	files, err := r.files.Names(ctx, roomName)
	if err != nil {
		return err
	}
	currentFile, err := r.files.CurrentFile(ctx, roomName)
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		return err
	}
	users, err := r.users.ListUsers(ctx, roomName)
	if err != nil {
		return err
	}
	r.send(c, noticeRoomJoined, roomJoinedPayload{
		Room:        roomName,
		Role:        string(p.Role),
		Files:       files,
		CurrentFile: currentFile,
		Users:       users,
	})

	r.publish(ctx, roomName, bus.KindPresence, presencePayload{
		UserID: p.UserID,
		Name:   p.Name,
		Role:   string(p.Role),
		Status: "joined",
	})
	return nil
}

// requireRoom loads the room the connection belongs to and authorizes the
// action against its matrix. Every mutating handler below starts here.
func (r *Router) requireRoom(ctx context.Context, c *Client, action room.Action) (*room.Room, error) {
	roomName := c.Room()
	if roomName == "" {
		return nil, fmt.Errorf("%s: join a room first", action)
	}
	rm, err := r.rooms.Get(ctx, roomName)
	if err != nil {
		return nil, fmt.Errorf("%s: load room %q: %w", action, roomName, err)
	}
	if err := authz.Check(rm.AuthMap, c.Role(), action); err != nil {
		return nil, err
	}
	return rm, nil
}

func (r *Router) handleEditData(ctx context.Context, c *Client, payload []byte) error {
	rm, err := r.requireRoom(ctx, c, room.ActionEditData)
	if err != nil {
		return err
	}
	if rm.ReadOnly && c.Role() != room.RoleModerator {
		return room.Denied(room.ActionEditData)
	}

	fileName := gjson.GetBytes(payload, "fileName").String()
	if fileName == "" {
		return errors.New("editData: fileName is required")
	}
	content := gjson.GetBytes(payload, "content").String()

	if err := r.open.Store(ctx, rm.Name, fileName, content, true); err != nil {
		return fmt.Errorf("editData: %w", err)
	}
	r.publish(ctx, rm.Name, bus.KindEdit, editPayload{
		FileName: fileName,
		Content:  content,
		UserID:   c.Identity.UserID,
	})
	return nil
}

func (r *Router) handleNewChatMessage(ctx context.Context, c *Client, payload []byte) error {
	rm, err := r.requireRoom(ctx, c, room.ActionNewChatMessage)
	if err != nil {
		return err
	}

	text := gjson.GetBytes(payload, "text").String()
	if text == "" {
		return errors.New("newChatMessage: text is required")
	}
	// Chat is ephemeral: broadcast only, nothing stored.
	r.publish(ctx, rm.Name, bus.KindChat, chatPayload{
		Text:   text,
		UserID: c.Identity.UserID,
		Name:   c.Name(),
	})
	return nil
}

func (r *Router) handleChangeUserID(ctx context.Context, c *Client, payload []byte) error {
	rm, err := r.requireRoom(ctx, c, room.ActionChangeUserID)
	if err != nil {
		return err
	}

	newName := gjson.GetBytes(payload, "newName").String()
	if newName == "" {
		return errors.New("changeUserId: newName is required")
	}

	if _, err := r.users.Rename(ctx, rm.Name, c.Identity.UserID, newName); err != nil {
		return fmt.Errorf("changeUserId: %w", err)
	}
	c.setName(newName)
	r.publish(ctx, rm.Name, bus.KindUserID, renamePayload{
		UserID:  c.Identity.UserID,
		NewName: newName,
	})
	return nil
}

func (r *Router) handleSaveCurrentFile(ctx context.Context, c *Client) error {
	rm, err := r.requireRoom(ctx, c, room.ActionSaveCurrentFile)
	if err != nil {
		return err
	}
	if rm.ReadOnly && c.Role() != room.RoleModerator {
		return room.Denied(room.ActionSaveCurrentFile)
	}

	fileName, err := r.files.CurrentFile(ctx, rm.Name)
	if err != nil {
		return fmt.Errorf("saveCurrentFile: %w", err)
	}
	if err := r.files.Save(ctx, rm.Name, fileName); err != nil {
		return fmt.Errorf("saveCurrentFile: %w", err)
	}
	r.publish(ctx, rm.Name, bus.KindSave, filePayload{
		FileName: fileName,
		UserID:   c.Identity.UserID,
	})
	return nil
}

func (r *Router) handleChangeCurrentFile(ctx context.Context, c *Client, payload []byte) error {
	rm, err := r.requireRoom(ctx, c, room.ActionChangeCurrentFile)
	if err != nil {
		return err
	}

	fileName := gjson.GetBytes(payload, "fileName").String()
	if fileName == "" {
		return errors.New("changeCurrentFile: fileName is required")
	}

	if err := r.files.SetCurrentFile(ctx, rm.Name, fileName); err != nil {
		return fmt.Errorf("changeCurrentFile: %w", err)
	}
	r.publish(ctx, rm.Name, bus.KindCurrentFile, filePayload{
		FileName: fileName,
		UserID:   c.Identity.UserID,
	})
	return nil
}

func (r *Router) handleChangeRole(ctx context.Context, c *Client, payload []byte) error {
	rm, err := r.requireRoom(ctx, c, room.ActionChangeRole)
	if err != nil {
		return err
	}

	targetID := gjson.GetBytes(payload, "userId").String()
	newRole := room.Role(gjson.GetBytes(payload, "role").String())
	if targetID == "" {
		return errors.New("changeRole: userId is required")
	}
	switch newRole {
	case room.RoleModerator, room.RoleEditor, room.RoleDefault:
	default:
		return fmt.Errorf("changeRole: unknown role %q", newRole)
	}

	p, err := r.users.ChangeRole(ctx, rm.Name, targetID, newRole)
	if err != nil {
		return fmt.Errorf("changeRole: %w", err)
	}
	r.publish(ctx, rm.Name, bus.KindRole, rolePayload{
		UserID: p.UserID,
		Role:   string(p.Role),
	})
	return nil
}
