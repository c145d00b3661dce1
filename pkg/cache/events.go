package cache

import (
	"sync"

	"github.com/google/uuid"
)

// EventKind identifies a cache lifecycle transition.
type EventKind string

const (
	// EventSet fires after every successful write.
	EventSet EventKind = "set"
	// EventExpired fires when the sweeper reclaims an entry whose TTL
	// elapsed, once per entry.
	EventExpired EventKind = "expired"
	// EventDel fires when an explicit delete removes an entry.
	EventDel EventKind = "del"
	// EventFlush fires once per Flush and carries no payload.
	EventFlush EventKind = "flush"
	// EventError carries internal faults that have no caller to return to,
	// such as a stored token the codec can no longer decode.
	EventError EventKind = "error"
)

// Event is what subscribed handlers receive. Key and Value are fresh decoded
// copies for set, expired and del; Err is populated only for EventError.
type Event[K comparable, V any] struct {
	Kind  EventKind
	Key   K
	Value V
	Err   error
}

// Handler consumes events. Handlers run synchronously on the goroutine that
// performed the transition, after the store lock is released, so a slow
// handler delays its publisher but never blocks readers or writers.
type Handler[K comparable, V any] func(Event[K, V])

// Subscription identifies one registered handler so it can be removed again.
// The zero value is not a valid subscription.
type Subscription struct {
	id   uuid.UUID
	kind EventKind
}

// Kind reports which event kind the subscription was registered for.
func (s Subscription) Kind() EventKind { return s.kind }

type listener[K comparable, V any] struct {
	id uuid.UUID
	fn Handler[K, V]
}

// notifier fans events out to handlers. Handlers for a kind are invoked in
// registration order.
type notifier[K comparable, V any] struct {
	mu        sync.RWMutex
	listeners map[EventKind][]listener[K, V]
}

func newNotifier[K comparable, V any]() *notifier[K, V] {
	return &notifier[K, V]{
		listeners: make(map[EventKind][]listener[K, V]),
	}
}

func (n *notifier[K, V]) subscribe(kind EventKind, fn Handler[K, V]) Subscription {
	sub := Subscription{id: uuid.New(), kind: kind}

	n.mu.Lock()
	n.listeners[kind] = append(n.listeners[kind], listener[K, V]{id: sub.id, fn: fn})
	n.mu.Unlock()

	return sub
}

func (n *notifier[K, V]) unsubscribe(sub Subscription) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	current := n.listeners[sub.kind]
	for i, l := range current {
		if l.id != sub.id {
			continue
		}
		// Rebuild instead of splicing in place: emit iterates a snapshot of
		// this slice without holding the lock.
		next := make([]listener[K, V], 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		n.listeners[sub.kind] = next
		return true
	}
	return false
}

func (n *notifier[K, V]) emit(ev Event[K, V]) {
	n.mu.RLock()
	snapshot := n.listeners[ev.Kind]
	n.mu.RUnlock()

	for _, l := range snapshot {
		l.fn(ev)
	}
}
