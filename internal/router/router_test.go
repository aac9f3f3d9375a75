package router_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/cybernetics/hackify-server/internal/router"
	"github.com/cybernetics/hackify-server/pkg/backend"
	"github.com/cybernetics/hackify-server/pkg/bus"
	"github.com/cybernetics/hackify-server/pkg/room"
	"github.com/cybernetics/hackify-server/pkg/session"
	"github.com/cybernetics/hackify-server/pkg/store"
	"github.com/cybernetics/hackify-server/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fixture struct {
	router *router.Router
	rooms  *store.Rooms
	files  *store.Files
	open   *store.OpenFiles
	users  *store.Users
	bus    *bus.Local
	wg     sync.WaitGroup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	b := backend.NewMemory()
	open := store.NewOpenFiles(b, logger)
	files := store.NewFiles(b, open, logger)
	users := store.NewUsers(b, logger)
	rooms := store.NewRooms(b, files, open, users, logger)
	eventBus := bus.NewLocal(logger)
	return &fixture{
		router: router.New(logger, rooms, files, open, users, eventBus),
		rooms:  rooms,
		files:  files,
		open:   open,
		users:  users,
		bus:    eventBus,
	}
}

func (f *fixture) newClient(t *testing.T, userID, name string) *router.Client {
	t.Helper()
	conn := transport.NewConnection(context.Background(), &f.wg, nil, transport.ConnectionConfig{}, nil, nil, newTestLogger())
	return f.router.Attach(conn, session.Identity{UserID: userID, Name: name, Authenticated: true})
}

func labRoom() *room.Room {
	return &room.Room{
		Name:          "lab",
		ModeratorPass: "modpass",
		AuthMap: room.AuthMap{
			room.RoleModerator: {
				room.ActionEditData:          true,
				room.ActionNewChatMessage:    true,
				room.ActionChangeUserID:      true,
				room.ActionSaveCurrentFile:   true,
				room.ActionChangeCurrentFile: true,
				room.ActionChangeRole:        true,
			},
			room.RoleEditor: {
				room.ActionEditData:          true,
				room.ActionNewChatMessage:    true,
				room.ActionChangeUserID:      true,
				room.ActionSaveCurrentFile:   true,
				room.ActionChangeCurrentFile: true,
				room.ActionChangeRole:        false,
			},
			room.RoleDefault: {
				room.ActionEditData:          false,
				room.ActionNewChatMessage:    true,
				room.ActionChangeUserID:      false,
				room.ActionSaveCurrentFile:   false,
				room.ActionChangeCurrentFile: false,
				room.ActionChangeRole:        false,
			},
		},
	}
}

func join(t *testing.T, f *fixture, c *router.Client, roomName, pass string) {
	t.Helper()
	payload := []byte(`{"room":"` + roomName + `","moderatorPass":"` + pass + `"}`)
	if err := f.router.Dispatch(context.Background(), c, router.EventJoinRoom, payload); err != nil {
		t.Fatalf("joinRoom failed: %v", err)
	}
}

func TestJoinCreatesRoomOnFirstJoin(t *testing.T) {
	f := newFixture(t)
	c := f.newClient(t, "u1", "alice")

	join(t, f, c, "fresh", "")

	rm, err := f.rooms.Get(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("room should exist after first join: %v", err)
	}
	if !room.ValidAuthMap(rm.AuthMap) {
		t.Error("created room should carry the default matrix")
	}
	if c.Room() != "fresh" || c.Role() != room.RoleDefault {
		t.Errorf("unexpected membership: room=%q role=%q", c.Room(), c.Role())
	}
}

func TestJoinWithModeratorPassGrantsModeratorAndHost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Set(ctx, labRoom())

	c := f.newClient(t, "u1", "alice")
	join(t, f, c, "lab", "modpass")

	if c.Role() != room.RoleModerator {
		t.Fatalf("expected moderator role, got %s", c.Role())
	}
	rm, _ := f.rooms.Get(ctx, "lab")
	if rm.HostConn == "" {
		t.Error("first moderator should claim the host connection")
	}
}

// The promote scenario: a default-role identity is denied editData, gets
// promoted to editor by a moderator, and then edits and saves successfully.
func TestPromoteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Set(ctx, labRoom())

	mod := f.newClient(t, "mod", "mia")
	join(t, f, mod, "lab", "modpass")

	user := f.newClient(t, "u1", "alice")
	join(t, f, user, "lab", "")
	if user.Role() != room.RoleDefault {
		t.Fatalf("expected default role, got %s", user.Role())
	}

	// Denied while default.
	err := f.router.Dispatch(ctx, user, router.EventEditData, []byte(`{"fileName":"a.js","content":"x"}`))
	if !errors.Is(err, room.ErrPermissionDenied) {
		t.Fatalf("expected PermissionDenied for default role, got %v", err)
	}
	if _, err := f.open.Get(ctx, "lab", "a.js"); !errors.Is(err, room.ErrNotFound) {
		t.Fatal("denied edit must not touch the open files store")
	}

	// Self-promotion is denied too.
	err = f.router.Dispatch(ctx, user, router.EventChangeRole, []byte(`{"userId":"u1","role":"editor"}`))
	if !errors.Is(err, room.ErrPermissionDenied) {
		t.Fatalf("expected PermissionDenied for self-promotion, got %v", err)
	}

	// Promotion through an authorized changeRole.
	err = f.router.Dispatch(ctx, mod, router.EventChangeRole, []byte(`{"userId":"u1","role":"editor"}`))
	if err != nil {
		t.Fatalf("moderator changeRole failed: %v", err)
	}
	if user.Role() != room.RoleEditor {
		t.Fatalf("role change should propagate to the live connection, got %s", user.Role())
	}

	// Now the edit lands.
	err = f.router.Dispatch(ctx, user, router.EventEditData, []byte(`{"fileName":"a.js","content":"x"}`))
	if err != nil {
		t.Fatalf("editData after promotion failed: %v", err)
	}
	of, err := f.open.Get(ctx, "lab", "a.js")
	if err != nil || of.Content != "x" || !of.Dirty {
		t.Fatalf("expected dirty open buffer with content x, got %+v, %v", of, err)
	}

	// Make it current and save.
	if err := f.router.Dispatch(ctx, user, router.EventChangeCurrentFile, []byte(`{"fileName":"a.js"}`)); err != nil {
		t.Fatalf("changeCurrentFile failed: %v", err)
	}
	if err := f.router.Dispatch(ctx, user, router.EventSaveCurrentFile, nil); err != nil {
		t.Fatalf("saveCurrentFile failed: %v", err)
	}
	saved, err := f.files.Get(ctx, "lab", "a.js")
	if err != nil || saved != "x" {
		t.Errorf("expected saved content x, got %q, %v", saved, err)
	}
	of, _ = f.open.Get(ctx, "lab", "a.js")
	if of.Dirty {
		t.Error("dirty flag should be cleared after save")
	}
}

func TestChatRequiresMembershipAndPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.newClient(t, "u1", "alice")
	if err := f.router.Dispatch(ctx, c, router.EventNewChatMessage, []byte(`{"text":"hi"}`)); err == nil {
		t.Fatal("chat before joining a room must fail")
	}

	rm := labRoom()
	rm.AuthMap[room.RoleDefault][room.ActionNewChatMessage] = false
	f.rooms.Set(ctx, rm)
	join(t, f, c, "lab", "")

	err := f.router.Dispatch(ctx, c, router.EventNewChatMessage, []byte(`{"text":"hi"}`))
	if !errors.Is(err, room.ErrPermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestReadOnlyRoomBlocksNonModeratorEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rm := labRoom()
	rm.ReadOnly = true
	rm.AuthMap[room.RoleDefault][room.ActionEditData] = true
	f.rooms.Set(ctx, rm)

	user := f.newClient(t, "u1", "alice")
	join(t, f, user, "lab", "")
	err := f.router.Dispatch(ctx, user, router.EventEditData, []byte(`{"fileName":"a.js","content":"x"}`))
	if !errors.Is(err, room.ErrPermissionDenied) {
		t.Fatalf("read-only room should deny non-moderator edits, got %v", err)
	}

	mod := f.newClient(t, "mod", "mia")
	join(t, f, mod, "lab", "modpass")
	if err := f.router.Dispatch(ctx, mod, router.EventEditData, []byte(`{"fileName":"a.js","content":"x"}`)); err != nil {
		t.Fatalf("moderator should still edit a read-only room: %v", err)
	}
}

func TestChangeUserID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Set(ctx, labRoom())

	c := f.newClient(t, "u1", "alice")
	join(t, f, c, "lab", "modpass")

	if err := f.router.Dispatch(ctx, c, router.EventChangeUserID, []byte(`{"newName":"alicia"}`)); err != nil {
		t.Fatalf("changeUserId failed: %v", err)
	}
	p, err := f.users.Get(ctx, "lab", "u1")
	if err != nil || p.Name != "alicia" {
		t.Errorf("rename not persisted: %+v, %v", p, err)
	}
	if c.Name() != "alicia" {
		t.Errorf("client display name not updated: %q", c.Name())
	}
}

func TestSaveWithoutCurrentFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Set(ctx, labRoom())

	mod := f.newClient(t, "mod", "mia")
	join(t, f, mod, "lab", "modpass")

	err := f.router.Dispatch(ctx, mod, router.EventSaveCurrentFile, nil)
	if !errors.Is(err, room.ErrNotFound) {
		t.Fatalf("saving with no current file should report not found, got %v", err)
	}
}

func TestDisconnectRemovesPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Set(ctx, labRoom())

	c := f.newClient(t, "u1", "alice")
	join(t, f, c, "lab", "")
	if _, err := f.users.Get(ctx, "lab", "u1"); err != nil {
		t.Fatalf("presence should exist after join: %v", err)
	}

	f.router.Disconnect(ctx, c.Conn.ID())

	if _, err := f.users.Get(ctx, "lab", "u1"); !errors.Is(err, room.ErrNotFound) {
		t.Errorf("presence should be removed on disconnect, got %v", err)
	}
	// A second disconnect for the same connection is harmless.
	f.router.Disconnect(ctx, c.Conn.ID())
}

// Joining another room through the same connection must leave the first
// room completely: no stale presence entry, no lingering roster entry
// holding the bus subscription open.
func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Set(ctx, labRoom())

	observer := f.newClient(t, "obs", "omar")
	join(t, f, observer, "lab", "")

	var left int
	unsub, _ := f.bus.Subscribe("lab", func(e bus.Event) {
		if e.Kind == bus.KindPresence && gjson.GetBytes(e.Payload, "status").String() == "left" {
			left++
		}
	})
	defer unsub()

	c := f.newClient(t, "u1", "alice")
	join(t, f, c, "lab", "")
	join(t, f, c, "annex", "")

	if _, err := f.users.Get(ctx, "lab", "u1"); !errors.Is(err, room.ErrNotFound) {
		t.Errorf("presence in the first room should be gone after switching, got %v", err)
	}
	if left != 1 {
		t.Errorf("expected one left announcement in the first room, got %d", left)
	}
	if c.Room() != "annex" {
		t.Errorf("membership should point at the new room, got %q", c.Room())
	}

	f.router.Disconnect(ctx, c.Conn.ID())
	if _, err := f.users.Get(ctx, "annex", "u1"); !errors.Is(err, room.ErrNotFound) {
		t.Errorf("presence in the second room should be removed on disconnect, got %v", err)
	}
	// The observer keeps the first room alive and untouched.
	if _, err := f.users.Get(ctx, "lab", "obs"); err != nil {
		t.Errorf("observer presence must survive the switch: %v", err)
	}
}

// One identity with two connections in the same room keeps its presence
// entry until the last connection goes away.
func TestSharedIdentityKeepsPresenceUntilLastDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Set(ctx, labRoom())

	first := f.newClient(t, "u1", "alice")
	second := f.newClient(t, "u1", "alice")
	join(t, f, first, "lab", "")
	join(t, f, second, "lab", "")

	f.router.Disconnect(ctx, first.Conn.ID())
	if _, err := f.users.Get(ctx, "lab", "u1"); err != nil {
		t.Fatalf("presence must survive while a connection remains: %v", err)
	}

	f.router.Disconnect(ctx, second.Conn.ID())
	if _, err := f.users.Get(ctx, "lab", "u1"); !errors.Is(err, room.ErrNotFound) {
		t.Errorf("presence should be removed with the last connection, got %v", err)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	f := newFixture(t)
	c := f.newClient(t, "u1", "alice")
	if err := f.router.Dispatch(context.Background(), c, "dropTables", nil); err == nil {
		t.Fatal("unknown events must be rejected")
	}
}

func TestEditFanOutReachesRoomSubscribers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rooms.Set(ctx, labRoom())

	mod := f.newClient(t, "mod", "mia")
	join(t, f, mod, "lab", "modpass")

	var kinds []bus.Kind
	unsub, _ := f.bus.Subscribe("lab", func(e bus.Event) { kinds = append(kinds, e.Kind) })
	defer unsub()

	for i := 0; i < 3; i++ {
		if err := f.router.Dispatch(ctx, mod, router.EventEditData, []byte(`{"fileName":"a.js","content":"x"}`)); err != nil {
			t.Fatalf("editData failed: %v", err)
		}
	}
	if len(kinds) != 3 {
		t.Fatalf("expected 3 edit events, got %d", len(kinds))
	}
	for _, k := range kinds {
		if k != bus.KindEdit {
			t.Errorf("unexpected event kind %s", k)
		}
	}
}
