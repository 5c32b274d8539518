// Package bus is the in-process event bus: typed publish/subscribe with
// wildcard subscribers and one-shot handlers.
//
// Publish is synchronous: every subscriber registered for the event name,
// plus every wildcard subscriber, runs in registration order before Publish
// returns. Subscriber panics are isolated and logged; they never propagate
// into the publisher. The bus is single-address-space and non-persistent.
package bus

import (
	"log/slog"
	"sync"
)

// Wildcard subscribes to every event.
const Wildcard = "*"

// Done is returned by a Once handler to unsubscribe itself.
const Done = "done"

// Event is a named payload broadcast to subscribers.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Handler receives published events.
type Handler func(Event)

// OnceHandler receives events until it returns Done.
type OnceHandler func(Event) string

type subscription struct {
	id int64
	fn Handler
}

// Bus is a typed pub/sub hub. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Publish delivers the event to all matching subscribers synchronously.
func (b *Bus) Publish(name string, payload any) {
	ev := Event{Name: name, Payload: payload}

	b.mu.RLock()
	// Snapshot under the read lock so handlers can subscribe/unsubscribe
	// without deadlocking the publish path.
	matched := make([]subscription, 0, len(b.subs[name])+len(b.subs[Wildcard]))
	matched = append(matched, b.subs[name]...)
	matched = append(matched, b.subs[Wildcard]...)
	b.mu.RUnlock()

	for _, sub := range matched {
		b.invoke(sub, ev)
	}
}

func (b *Bus) invoke(sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: subscriber panic", "event", ev.Name, "panic", r)
		}
	}()
	sub.fn(ev)
}

// Subscribe registers a handler for the event name and returns an
// unsubscribe function. Use Wildcard to receive every event.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() { b.remove(name, id) }
}

// SubscribeAll registers a wildcard handler.
func (b *Bus) SubscribeAll(fn Handler) func() {
	return b.Subscribe(Wildcard, fn)
}

// Once registers a handler that unsubscribes itself the first time it
// returns Done.
func (b *Bus) Once(name string, fn OnceHandler) func() {
	var unsub func()
	var once sync.Once
	unsub = b.Subscribe(name, func(ev Event) {
		if fn(ev) == Done {
			once.Do(unsub)
		}
	})
	return unsub
}

func (b *Bus) remove(name string, subID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[name]
	for i, sub := range subs {
		if sub.id == subID {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Clear drops all subscriptions. Used by tests.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
}
