package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cybernetics/hackify-server/pkg/backend"
	"github.com/cybernetics/hackify-server/pkg/room"
	"github.com/cybernetics/hackify-server/pkg/store"
)

func TestOpenFileDirtyTracking(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	if err := s.open.Store(ctx, "lab", "a.js", "x", true); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	of, err := s.open.Get(ctx, "lab", "a.js")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if of.Content != "x" || !of.Dirty {
		t.Errorf("expected dirty buffer with content x, got %+v", of)
	}
}

func TestOpenFileWithoutSavedCounterpart(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	// A newly created, never-saved file exists only as an open buffer.
	s.open.Store(ctx, "lab", "new.js", "fresh", true)

	if _, err := s.files.Get(ctx, "lab", "new.js"); !errors.Is(err, room.ErrNotFound) {
		t.Fatalf("expected no saved copy, got %v", err)
	}
	// The current-file pointer may still target it.
	if err := s.files.SetCurrentFile(ctx, "lab", "new.js"); err != nil {
		t.Errorf("SetCurrentFile should accept an open-only file: %v", err)
	}
}

func TestSetCurrentFileRejectsUnknownFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	err := s.files.SetCurrentFile(ctx, "lab", "ghost.js")
	if !errors.Is(err, room.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a file with no saved or open entry, got %v", err)
	}
}

func TestCurrentFileSingleAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	s.files.Store(ctx, "lab", "a.js", "a")
	s.files.Store(ctx, "lab", "b.js", "b")

	if _, err := s.files.CurrentFile(ctx, "lab"); !errors.Is(err, room.ErrNotFound) {
		t.Fatalf("expected no current file initially, got %v", err)
	}

	s.files.SetCurrentFile(ctx, "lab", "a.js")
	cur, err := s.files.CurrentFile(ctx, "lab")
	if err != nil || cur != "a.js" {
		t.Fatalf("expected a.js current, got %q, %v", cur, err)
	}

	// Setting the same file again is observably a no-op.
	if err := s.files.SetCurrentFile(ctx, "lab", "a.js"); err != nil {
		t.Fatalf("idempotent SetCurrentFile failed: %v", err)
	}
	cur, _ = s.files.CurrentFile(ctx, "lab")
	if cur != "a.js" {
		t.Errorf("expected a.js still current, got %q", cur)
	}

	// Switching replaces the pointer; there is never more than one.
	s.files.SetCurrentFile(ctx, "lab", "b.js")
	cur, _ = s.files.CurrentFile(ctx, "lab")
	if cur != "b.js" {
		t.Errorf("expected b.js current after switch, got %q", cur)
	}
}

func TestSaveCopiesBufferAndClearsDirty(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	s.files.Store(ctx, "lab", "a.js", "old")
	s.open.Store(ctx, "lab", "a.js", "new", true)

	if err := s.files.Save(ctx, "lab", "a.js"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	saved, err := s.files.Get(ctx, "lab", "a.js")
	if err != nil || saved != "new" {
		t.Errorf("expected saved content new, got %q, %v", saved, err)
	}
	of, _ := s.open.Get(ctx, "lab", "a.js")
	if of.Dirty {
		t.Error("dirty flag should be cleared by save")
	}
	if of.Content != "new" {
		t.Errorf("open buffer content changed by save: %q", of.Content)
	}
}

func TestSaveUnopenedFileFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	if err := s.files.Save(ctx, "lab", "ghost.js"); !errors.Is(err, room.ErrNotFound) {
		t.Fatalf("expected ErrNotFound saving a file never opened, got %v", err)
	}
}

func TestSaveAtomicUnderConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	s.files.Store(ctx, "lab", "a.js", "v0")
	s.open.Store(ctx, "lab", "a.js", "v0", false)

	done := make(chan struct{})
	var violations int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				saved, open, err := s.files.Snapshot(ctx, "lab", "a.js")
				if err != nil {
					continue
				}
				// A snapshot must never pair fresh saved content with a
				// still-dirty buffer for that same content.
				if open.Dirty && saved == open.Content {
					mu.Lock()
					violations++
					mu.Unlock()
				}
			}
		}()
	}

	for i := 1; i <= 50; i++ {
		content := fmt.Sprintf("v%d", i)
		if err := s.open.Store(ctx, "lab", "a.js", content, true); err != nil {
			t.Fatalf("edit %d failed: %v", i, err)
		}
		if err := s.files.Save(ctx, "lab", "a.js"); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
	}
	close(done)
	wg.Wait()

	if violations > 0 {
		t.Errorf("observed %d torn save snapshots", violations)
	}
}

// Saved files and open buffers can be configured onto different backends.
// No transaction spans the two, so the save falls back to sequential
// writes; both must still land.
func TestSaveAcrossSplitBackends(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	open := store.NewOpenFiles(backend.NewMemory(), logger)
	files := store.NewFiles(backend.NewMemory(), open, logger)

	if err := open.Store(ctx, "lab", "a.js", "new", true); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := files.Save(ctx, "lab", "a.js"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	saved, err := files.Get(ctx, "lab", "a.js")
	if err != nil || saved != "new" {
		t.Errorf("expected saved content new, got %q, %v", saved, err)
	}
	of, _ := open.Get(ctx, "lab", "a.js")
	if of.Dirty || of.Content != "new" {
		t.Errorf("expected clean buffer with content new, got %+v", of)
	}
}

func TestConcurrentSavesSerialize(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	s.open.Store(ctx, "lab", "a.js", "content", true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.files.Save(ctx, "lab", "a.js"); err != nil {
				t.Errorf("concurrent save failed: %v", err)
			}
		}()
	}
	wg.Wait()

	saved, err := s.files.Get(ctx, "lab", "a.js")
	if err != nil || saved != "content" {
		t.Errorf("expected content after racing saves, got %q, %v", saved, err)
	}
	of, _ := s.open.Get(ctx, "lab", "a.js")
	if of.Dirty {
		t.Error("dirty flag should be cleared after racing saves")
	}
}

func TestFileNames(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)

	s.files.Store(ctx, "lab", "a.js", "a")
	s.files.Store(ctx, "lab", "b.js", "b")
	s.files.Store(ctx, "other", "c.js", "c")

	names, err := s.files.Names(ctx, "lab")
	if err != nil {
		t.Fatalf("Names failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 files for lab, got %v", names)
	}
}
