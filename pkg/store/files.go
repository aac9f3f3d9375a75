package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cybernetics/hackify-server/pkg/backend"
	"github.com/cybernetics/hackify-server/pkg/room"
)

const (
	collFiles   = "files"
	collCurrent = "files:current"
)

// Files holds the last saved content of each file and the per-room
// current-file pointer. Live edits go through OpenFiles; Save copies an
// open buffer into here.
type Files struct {
	backend backend.Store
	open    *OpenFiles
	logger  *slog.Logger

	// saves serializes Save per (room, file) so two concurrent saves never
	// interleave their read-copy-clear sequence, and a reader never sees
	// the saved content updated while the buffer still reads dirty.
	saves *keyedMutex

	// sharedBackend is true when saved files and open buffers live on the
	// same backend, which lets Save write both in one SetMulti so readers
	// on other processes never see the pair half-updated.
	sharedBackend bool
}

func NewFiles(b backend.Store, open *OpenFiles, logger *slog.Logger) *Files {
	return &Files{
		backend:       b,
		open:          open,
		logger:        logger.With(slog.String("component", "files_manager")),
		saves:         newKeyedMutex(),
		sharedBackend: b == open.backend,
	}
}

// Store writes saved content directly, bypassing the open buffer. The
// bootstrap seed path uses this; normal edits arrive via OpenFiles and Save.
func (f *Files) Store(ctx context.Context, roomName, fileName, content string) error {
	return f.backend.Set(ctx, collFiles, fileKey(roomName, fileName), []byte(content))
}

func (f *Files) Get(ctx context.Context, roomName, fileName string) (string, error) {
	value, err := f.backend.Get(ctx, collFiles, fileKey(roomName, fileName))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return "", room.ErrNotFound
		}
		return "", err
	}
	return string(value), nil
}

// Names lists the saved files in a room.
func (f *Files) Names(ctx context.Context, roomName string) ([]string, error) {
	return namesWithPrefix(ctx, f.backend, collFiles, roomName)
}

// SetCurrentFile points the room at fileName. The target must exist as a
// saved or open file; a pointer at nothing is a configuration error waiting
// to happen. Setting the same file again is a no-op.
func (f *Files) SetCurrentFile(ctx context.Context, roomName, fileName string) error {
	if _, err := f.Get(ctx, roomName, fileName); err != nil {
		if !errors.Is(err, room.ErrNotFound) {
			return err
		}
		if _, openErr := f.open.Get(ctx, roomName, fileName); openErr != nil {
			if errors.Is(openErr, room.ErrNotFound) {
				return fmt.Errorf("set current file %s/%s: %w", roomName, fileName, room.ErrNotFound)
			}
			return openErr
		}
	}
	return f.backend.Set(ctx, collCurrent, roomName, []byte(fileName))
}

// CurrentFile returns the room's current file, or room.ErrNotFound when no
// file has been made current.
func (f *Files) CurrentFile(ctx context.Context, roomName string) (string, error) {
	value, err := f.backend.Get(ctx, collCurrent, roomName)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return "", room.ErrNotFound
		}
		return "", err
	}
	return string(value), nil
}

// Save copies the open buffer for (room, fileName) into the saved copy and
// clears the dirty flag. The keyed mutex serializes racing saves in this
// process; on a shared backend the pair of writes goes through one SetMulti,
// so a reader on any process sees old saved content with a dirty buffer, or
// new saved content with a clean one, never the torn state in between.
func (f *Files) Save(ctx context.Context, roomName, fileName string) error {
	key := fileKey(roomName, fileName)
	f.saves.lock(key)
	defer f.saves.unlock(key)

	of, err := f.open.Get(ctx, roomName, fileName)
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", roomName, fileName, err)
	}

	if f.sharedBackend {
		openEntry, err := f.open.entry(roomName, fileName, of.Content, false)
		if err != nil {
			return fmt.Errorf("save %s/%s: %w", roomName, fileName, err)
		}
		savedEntry := backend.Entry{Collection: collFiles, Key: key, Value: []byte(of.Content)}
		if err := f.backend.SetMulti(ctx, savedEntry, openEntry); err != nil {
			return fmt.Errorf("save %s/%s: %w", roomName, fileName, err)
		}
	} else {
		// Saved files and open buffers sit on different backends; no
		// transaction spans them, so the writes land one after the other
		// and only this process's mutex keeps readers consistent.
		if err := f.Store(ctx, roomName, fileName, of.Content); err != nil {
			return fmt.Errorf("save %s/%s: %w", roomName, fileName, err)
		}
		if err := f.open.Store(ctx, roomName, fileName, of.Content, false); err != nil {
			return fmt.Errorf("save %s/%s: clear dirty flag: %w", roomName, fileName, err)
		}
	}
	f.logger.Debug("file saved", slog.String("room", roomName), slog.String("file", fileName))
	return nil
}

// Snapshot reads the saved content and the open buffer for (room, fileName)
// as one unit, under the same lock Save holds. It is the only way to
// observe the pair consistently: reading the two stores separately can
// straddle an in-flight save.
func (f *Files) Snapshot(ctx context.Context, roomName, fileName string) (saved string, open room.OpenFile, err error) {
	key := fileKey(roomName, fileName)
	f.saves.lock(key)
	defer f.saves.unlock(key)

	saved, err = f.Get(ctx, roomName, fileName)
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		return "", room.OpenFile{}, err
	}
	open, err = f.open.Get(ctx, roomName, fileName)
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		return "", room.OpenFile{}, err
	}
	return saved, open, nil
}

// Reset drops every saved file and the current-file pointer for the room.
func (f *Files) Reset(ctx context.Context, roomName string) error {
	f.logger.Debug("resetting files", slog.String("room", roomName))
	if err := f.backend.ResetPrefix(ctx, collFiles, roomName+"/"); err != nil {
		return err
	}
	return f.backend.Delete(ctx, collCurrent, roomName)
}
