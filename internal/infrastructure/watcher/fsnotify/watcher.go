// Package fsnotify implements ports.Watcher over fsnotify, watching a
// set of root folders recursively and translating raw filesystem
// events into ports.WatchEvent.
package fsnotify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"sentinelfs/internal/domain/ports"
	"sentinelfs/internal/infrastructure/logging"
)

// Watcher implements ports.Watcher over a single underlying
// fsnotify.Watcher shared across every watched root.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *logging.Logger

	mu     sync.Mutex
	roots  map[string]bool
	cancel context.CancelFunc
	done   chan struct{}

	events chan ports.WatchEvent
	errors chan error
}

// New creates a Watcher with no roots watched yet; call Watch to add
// one.
func New(logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		logger: logger.Component("watcher.fsnotify"),
		roots:  make(map[string]bool),
		events: make(chan ports.WatchEvent, 256),
		errors: make(chan error, 16),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)

	return w, nil
}

// Watch recursively adds path and every non-hidden subdirectory under
// it to the watch set.
func (w *Watcher) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.roots[abs] = true
	w.mu.Unlock()

	return filepath.Walk(abs, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if isHidden(info.Name()) && p != abs {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// Unwatch stops watching path and its previously-added subdirectories.
func (w *Watcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	delete(w.roots, abs)
	w.mu.Unlock()

	return filepath.Walk(abs, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			w.fsw.Remove(p)
		}
		return nil
	})
}

func isHidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}

// Events returns the channel of filesystem changes.
func (w *Watcher) Events() <-chan ports.WatchEvent { return w.events }

// Errors returns the channel of watcher-internal errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.cancel()
	<-w.done
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRawEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				w.logger.Warn("error channel full, dropping", "error", err)
			}
		}
	}
}

func (w *Watcher) handleRawEvent(ev fsnotify.Event) {
	op := translateOp(ev.Op)

	// A new directory needs to be watched itself to see events inside it.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !isHidden(filepath.Base(ev.Name)) {
			w.fsw.Add(ev.Name)
		}
	}

	select {
	case w.events <- ports.WatchEvent{Path: ev.Name, Op: op}:
	default:
		w.logger.Warn("event channel full, dropping event", "path", ev.Name)
	}
}

func translateOp(op fsnotify.Op) ports.WatchOp {
	switch {
	case op.Has(fsnotify.Create):
		return ports.WatchOpCreate
	case op.Has(fsnotify.Write):
		return ports.WatchOpWrite
	case op.Has(fsnotify.Remove):
		return ports.WatchOpRemove
	case op.Has(fsnotify.Rename):
		return ports.WatchOpRename
	default:
		return ports.WatchOpWrite
	}
}

var _ ports.Watcher = (*Watcher)(nil)
