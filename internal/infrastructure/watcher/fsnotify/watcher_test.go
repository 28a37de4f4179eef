package fsnotify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sentinelfs/internal/domain/ports"
)

func waitForEvent(t *testing.T, w *Watcher, want ports.WatchOp, path string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Op == want && filepath.Clean(ev.Path) == filepath.Clean(path) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v on %s", want, path)
		}
	}
}

func TestWatchDetectsFileCreation(t *testing.T) {
	dir := t.TempDir()
	w, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Watch(context.Background(), dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	target := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(target, []byte("hi"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	waitForEvent(t, w, ports.WatchOpCreate, target)
}

func TestWatchDetectsFileRemoval(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	w, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Watch(context.Background(), dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove: %v", err)
	}

	waitForEvent(t, w, ports.WatchOpRemove, target)
}

func TestWatchSkipsHiddenSubdirectories(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".git")
	if err := os.Mkdir(hidden, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Watch(context.Background(), dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	target := filepath.Join(hidden, "config")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event from hidden directory, got %+v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestUnwatchStopsReportingEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Watch(context.Background(), dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := w.Unwatch(dir); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}

	target := filepath.Join(dir, "after-unwatch.txt")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event after Unwatch, got %+v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}
