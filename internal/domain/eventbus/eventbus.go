// Package eventbus is the synchronous, in-order publish/subscribe dispatch
// layer used to surface daemon activity to the CLI, IPC surface, and
// internal components without coupling them directly (§4.11).
package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind tags an Event's variant.
type Kind string

const (
	KindFileSynced        Kind = "file.synced"
	KindTransferFailed    Kind = "transfer.failed"
	KindConflictDetected  Kind = "conflict.detected"
	KindPeerConnected     Kind = "peer.connected"
	KindPeerDisconnected  Kind = "peer.disconnected"
	KindPeerScoreChanged  Kind = "peer.score_changed"
	KindPinViolation      Kind = "pin.violation"
	KindRemeshDropped     Kind = "remesh.dropped"

	// KindAny is a wildcard subscription key matching every published
	// event, regardless of Kind.
	KindAny Kind = "*"
)

// Event is a tagged-variant notification published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Data      json.RawMessage
}

// New builds an Event, marshaling data to JSON. A marshal failure yields
// an event with nil Data rather than a constructor error — events are a
// best-effort notification mechanism, not a correctness boundary.
func New(kind Kind, data any) Event {
	var raw json.RawMessage
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			raw = b
		}
	}
	return Event{Kind: kind, Timestamp: time.Now(), Data: raw}
}

// Handler receives published events. A handler that panics is isolated —
// it cannot prevent other handlers of the same event from running.
type Handler func(Event)

// Token identifies one subscription for later Unsubscribe calls.
type Token string

type subscription struct {
	token   Token
	handler Handler
}

// Bus dispatches events to subscribers synchronously, in publish order.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]subscription
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]subscription)}
}

// Subscribe registers handler for events of kind (or every event, via
// KindAny) and returns an opaque token for Unsubscribe.
func (b *Bus) Subscribe(kind Kind, handler Handler) Token {
	token := Token(uuid.New().String())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], subscription{token: token, handler: handler})
	return token
}

// Unsubscribe removes a subscription previously returned by Subscribe.
func (b *Bus) Unsubscribe(kind Kind, token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[kind]
	for i, s := range list {
		if s.token == token {
			b.subs[kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every subscriber of its Kind plus every
// KindAny subscriber, in registration order, synchronously. Publication
// may happen from any goroutine. A handler panic is recovered and does
// not stop delivery to the remaining handlers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Kind])+len(b.subs[KindAny]))
	for _, s := range b.subs[event.Kind] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.subs[KindAny] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatchSafely(h, event)
	}
}

func dispatchSafely(h Handler, event Event) {
	defer func() {
		_ = recover()
	}()
	h(event)
}

// SubscriberCount returns the number of active subscriptions across all
// kinds, for diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, list := range b.subs {
		total += len(list)
	}
	return total
}
