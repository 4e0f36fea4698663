// Package event provides a small typed publish/subscribe primitive.
// Transports and connections use it to expose streams such as
// "data received" without knowing who is listening.
package event

import "sync"

// Event fans a value out to every registered listener, in
// registration order.  The zero value is ready to use.
type Event[T any] struct {
	mu        sync.RWMutex
	nextID    int
	listeners []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

// Subscription identifies a listener so it can be removed again.
type Subscription int

// Listen registers fn and returns a handle for [Event.Disconnect].
func (e *Event[T]) Listen(fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners = append(e.listeners, listener[T]{id: e.nextID, fn: fn})
	return Subscription(e.nextID)
}

// Disconnect removes a listener.  Unknown subscriptions are ignored.
func (e *Event[T]) Disconnect(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == int(sub) {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// DisconnectAll removes every listener.
func (e *Event[T]) DisconnectAll() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}

// Emit calls each listener with v.  Listeners run on the caller's
// goroutine and may not call Listen or Disconnect on the same event.
func (e *Event[T]) Emit(v T) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, l := range e.listeners {
		l.fn(v)
	}
}

// ListenerCount returns the number of registered listeners.
func (e *Event[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
