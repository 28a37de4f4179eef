// Package antiloop implements the anti-loop ledger: the only mechanism
// that prevents ping-pong broadcast storms between symmetric peers. A
// receiver installs an entry immediately before any filesystem mutation
// it makes on a remote peer's behalf; the local watcher's change handler
// consults the ledger before broadcasting, so the echo of its own write
// never goes back out (§4.5).
package antiloop

import (
	"path/filepath"
	"sync"
	"time"
)

// DefaultTTL is within the spec's "order of 1-2 seconds" window.
const DefaultTTL = 1500 * time.Millisecond

// sweepInterval paces the periodic background sweeper.
const sweepInterval = 5 * time.Second

type entry struct {
	markedAt time.Time
}

func (e entry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.markedAt) > ttl
}

// Ledger tracks recently-installed suppression entries, keyed by file
// basename.
type Ledger struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry

	cancel chan struct{}
	done   chan struct{}
}

// New constructs a Ledger with the given TTL. A TTL of 0 uses DefaultTTL.
func New(ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Mark installs a suppression entry for path's basename. Call this
// immediately before mutating the filesystem on a remote peer's behalf —
// the install must happen-before the mutation that triggers the local
// watcher (§5 ordering guarantees).
func (l *Ledger) Mark(path string) {
	name := filepath.Base(path)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[name] = entry{markedAt: time.Now()}
}

// ShouldSuppress reports whether a local watcher event for path's
// basename should be dropped because it was just caused by a remote
// delta-apply. It evicts the entry lazily if found but expired.
func (l *Ledger) ShouldSuppress(path string) bool {
	name := filepath.Base(path)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[name]
	if !ok {
		return false
	}
	if e.expired(l.ttl, now) {
		delete(l.entries, name)
		return false
	}
	return true
}

// StartSweeper launches a background goroutine that periodically evicts
// expired entries, bounding ledger growth even when ShouldSuppress is
// never called for a given name again. A zero interval uses
// sweepInterval.
func (l *Ledger) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = sweepInterval
	}
	l.cancel = make(chan struct{})
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.cancel:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

// StopSweeper stops the background sweeper and waits for it to exit. A
// no-op if the sweeper was never started.
func (l *Ledger) StopSweeper() {
	if l.cancel == nil {
		return
	}
	close(l.cancel)
	<-l.done
}

func (l *Ledger) sweep() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, e := range l.entries {
		if e.expired(l.ttl, now) {
			delete(l.entries, name)
		}
	}
}

// Len reports the number of entries currently held, expired or not —
// for diagnostics and tests.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
