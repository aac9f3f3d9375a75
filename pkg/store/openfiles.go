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

const collOpenFiles = "openfiles"

// OpenFiles holds the live edit buffer for every file being worked on. An
// open file diverges from its saved copy (dirty) until a save copies it
// back. Open files may exist for names with no saved counterpart yet.
type OpenFiles struct {
	backend backend.Store
	logger  *slog.Logger
}

func NewOpenFiles(b backend.Store, logger *slog.Logger) *OpenFiles {
	return &OpenFiles{
		backend: b,
		logger:  logger.With(slog.String("component", "openfiles_manager")),
	}
}

func fileKey(roomName, fileName string) string {
	return roomName + "/" + fileName
}

// Store replaces the buffer for (room, fileName). Concurrent stores from
// different connections are last-write-wins; content is never merged.
func (o *OpenFiles) Store(ctx context.Context, roomName, fileName, content string, dirty bool) error {
	e, err := o.entry(roomName, fileName, content, dirty)
	if err != nil {
		return err
	}
	return o.backend.Set(ctx, e.Collection, e.Key, e.Value)
}

// entry encodes a buffer state as a backend write, for callers that pair
// it with other writes in one SetMulti.
func (o *OpenFiles) entry(roomName, fileName, content string, dirty bool) (backend.Entry, error) {
	value, err := json.Marshal(room.OpenFile{Content: content, Dirty: dirty})
	if err != nil {
		return backend.Entry{}, fmt.Errorf("marshal open file %s/%s: %w", roomName, fileName, err)
	}
	return backend.Entry{Collection: collOpenFiles, Key: fileKey(roomName, fileName), Value: value}, nil
}

func (o *OpenFiles) Get(ctx context.Context, roomName, fileName string) (room.OpenFile, error) {
	value, err := o.backend.Get(ctx, collOpenFiles, fileKey(roomName, fileName))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return room.OpenFile{}, room.ErrNotFound
		}
		return room.OpenFile{}, err
	}
	var of room.OpenFile
	if err := json.Unmarshal(value, &of); err != nil {
		return room.OpenFile{}, fmt.Errorf("unmarshal open file %s/%s: %w", roomName, fileName, err)
	}
	return of, nil
}

// Names lists the files currently open in a room.
func (o *OpenFiles) Names(ctx context.Context, roomName string) ([]string, error) {
	return namesWithPrefix(ctx, o.backend, collOpenFiles, roomName)
}

// Reset drops every open buffer belonging to the room.
func (o *OpenFiles) Reset(ctx context.Context, roomName string) error {
	o.logger.Debug("resetting open files", slog.String("room", roomName))
	return o.backend.ResetPrefix(ctx, collOpenFiles, roomName+"/")
}

func namesWithPrefix(ctx context.Context, b backend.Store, collection, roomName string) ([]string, error) {
	keys, err := b.Keys(ctx, collection)
	if err != nil {
		return nil, err
	}
	prefix := roomName + "/"
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			names = append(names, k[len(prefix):])
		}
	}
	return names, nil
}
