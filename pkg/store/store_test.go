package store_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/cybernetics/hackify-server/pkg/backend"
	"github.com/cybernetics/hackify-server/pkg/store"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type testStores struct {
	rooms *store.Rooms
	files *store.Files
	open  *store.OpenFiles
	users *store.Users
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()
	logger := newTestLogger()
	b := backend.NewMemory()
	open := store.NewOpenFiles(b, logger)
	files := store.NewFiles(b, open, logger)
	users := store.NewUsers(b, logger)
	rooms := store.NewRooms(b, files, open, users, logger)
	return &testStores{rooms: rooms, files: files, open: open, users: users}
}
