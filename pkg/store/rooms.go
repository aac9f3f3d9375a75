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

const collRooms = "rooms"

// Rooms holds the room records. Reset delegates the room's contents to the
// files, open-files and users managers, then deletes or recreates the room
// record depending on its permanence.
type Rooms struct {
	backend backend.Store
	files   *Files
	open    *OpenFiles
	users   *Users
	logger  *slog.Logger
}

func NewRooms(b backend.Store, files *Files, open *OpenFiles, users *Users, logger *slog.Logger) *Rooms {
	return &Rooms{
		backend: b,
		files:   files,
		open:    open,
		users:   users,
		logger:  logger.With(slog.String("component", "rooms_manager")),
	}
}

// Set creates or replaces the room record. The permission matrix must
// define all three built-in roles.
func (r *Rooms) Set(ctx context.Context, rm *room.Room) error {
	if rm.Name == "" {
		return errors.New("room name must not be empty")
	}
	if !room.ValidAuthMap(rm.AuthMap) {
		return fmt.Errorf("room %q: auth map must define moderator, editor and default roles", rm.Name)
	}
	value, err := json.Marshal(rm)
	if err != nil {
		return fmt.Errorf("marshal room %q: %w", rm.Name, err)
	}
	return r.backend.Set(ctx, collRooms, rm.Name, value)
}

func (r *Rooms) Get(ctx context.Context, name string) (*room.Room, error) {
	value, err := r.backend.Get(ctx, collRooms, name)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, room.ErrNotFound
		}
		return nil, err
	}
	var rm room.Room
	if err := json.Unmarshal(value, &rm); err != nil {
		return nil, fmt.Errorf("unmarshal room %q: %w", name, err)
	}
	return &rm, nil
}

// Names enumerates every known room.
func (r *Rooms) Names(ctx context.Context) ([]string, error) {
	return r.backend.Keys(ctx, collRooms)
}

// Reset clears the room's files, open buffers and presence. Permanent rooms
// keep their record, with the transient host connection cleared; everything
// else is deleted outright. Different rooms may be reset concurrently.
func (r *Rooms) Reset(ctx context.Context, name string) error {
	rm, err := r.Get(ctx, name)
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		return fmt.Errorf("reset room %q: %w", name, err)
	}

	if err := r.files.Reset(ctx, name); err != nil {
		return fmt.Errorf("reset room %q: files: %w", name, err)
	}
	if err := r.open.Reset(ctx, name); err != nil {
		return fmt.Errorf("reset room %q: open files: %w", name, err)
	}
	if err := r.users.ResetRoom(ctx, name); err != nil {
		return fmt.Errorf("reset room %q: users: %w", name, err)
	}

	if rm != nil && rm.Permanent {
		rm.HostConn = ""
		if err := r.Set(ctx, rm); err != nil {
			return fmt.Errorf("reset room %q: recreate permanent record: %w", name, err)
		}
		r.logger.Info("permanent room reset", slog.String("room", name))
		return nil
	}
	if err := r.backend.Delete(ctx, collRooms, name); err != nil {
		return fmt.Errorf("reset room %q: delete record: %w", name, err)
	}
	r.logger.Info("room reset", slog.String("room", name))
	return nil
}
