// Package bootstrap brings a primary process's room state to a known
// baseline at startup: every known room is reset, then the permanent demo
// room is seeded. Subordinate processes skip all of it and trust the state
// the primary already populated.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cybernetics/hackify-server/pkg/room"
	"github.com/cybernetics/hackify-server/pkg/store"
)

const (
	DemoRoom = "demo"

	DemoScript     = "demo.js"
	DemoScriptSeed = "var x = 'hackify rules!';"
	DemoReadme     = "readme.txt"
	DemoReadmeSeed = "Hack it up!"
)

// Run executes the boot sequence. Any failure is fatal to the caller: a
// room system with unknown state must not accept connections.
func Run(ctx context.Context, logger *slog.Logger, rooms *store.Rooms, files *store.Files, open *store.OpenFiles, users *store.Users, subordinate bool) error {
	logger = logger.With(slog.String("component", "bootstrap"))

	if subordinate {
		logger.Info("subordinate instance, skipping boot reset and seed")
		return nil
	}

	names, err := rooms.Names(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: enumerate rooms: %w", err)
	}
	logger.Info("resetting rooms", slog.Int("count", len(names)))

	// Collect every per-room failure rather than ploughing on; a single
	// unreset room means unknown state.
	var resetErrs []error
	for _, name := range names {
		if err := rooms.Reset(ctx, name); err != nil {
			resetErrs = append(resetErrs, fmt.Errorf("bootstrap: %w", err))
		}
	}
	if len(resetErrs) > 0 {
		return errors.Join(resetErrs...)
	}

	return seedDemoRoom(ctx, logger, rooms, files, open)
}

func seedDemoRoom(ctx context.Context, logger *slog.Logger, rooms *store.Rooms, files *store.Files, open *store.OpenFiles) error {
	moderatorPass := fmt.Sprintf("%06d", rand.Intn(1000000))
	demo := &room.Room{
		Name:          DemoRoom,
		ModeratorPass: moderatorPass,
		Permanent:     true,
		AuthMap:       room.DefaultAuthMap(),
	}
	if err := rooms.Set(ctx, demo); err != nil {
		return fmt.Errorf("bootstrap: seed demo room: %w", err)
	}

	seeds := map[string]string{
		DemoScript: DemoScriptSeed,
		DemoReadme: DemoReadmeSeed,
	}
	for name, content := range seeds {
		if err := files.Store(ctx, DemoRoom, name, content); err != nil {
			return fmt.Errorf("bootstrap: seed file %s: %w", name, err)
		}
		if err := open.Store(ctx, DemoRoom, name, content, false); err != nil {
			return fmt.Errorf("bootstrap: open seed file %s: %w", name, err)
		}
	}
	if err := files.SetCurrentFile(ctx, DemoRoom, DemoScript); err != nil {
		return fmt.Errorf("bootstrap: set demo current file: %w", err)
	}

	logger.Info("demo room created", slog.String("moderatorPass", moderatorPass))
	return nil
}
