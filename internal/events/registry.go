package events

import (
	"fmt"
	"sync"
)

// Subscription identifies one registered handler.
type Subscription struct {
	Event string
	id    uint64
}

// Valid reports whether the subscription came from a Registry.
func (s Subscription) Valid() bool {
	return s.id != 0
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

// Registry holds the handlers for events carrying a payload of type T.
type Registry[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]handler[T]
	onPanic  func(event string, recovered any)
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		handlers: make(map[string][]handler[T]),
	}
}

// OnPanic sets the callback invoked when a handler panics.
func (r *Registry[T]) OnPanic(fn func(event string, recovered any)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPanic = fn
}

// On appends fn to the handlers for event.
func (r *Registry[T]) On(event string, fn func(T)) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	// Copy on write: a dispatch in progress keeps iterating its own slice.
	current := r.handlers[event]
	next := make([]handler[T], len(current), len(current)+1)
	copy(next, current)
	r.handlers[event] = append(next, handler[T]{id: id, fn: fn})

	return Subscription{Event: event, id: id}
}

// Off removes the handler. It returns false if the handler was not
// registered, which includes a second Off for the same subscription.
func (r *Registry[T]) Off(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handlers[sub.Event]
	for i, h := range current {
		if h.id != sub.id {
			continue
		}
		next := make([]handler[T], 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, sub.Event)
		} else {
			r.handlers[sub.Event] = next
		}
		return true
	}
	return false
}

// Count returns the number of handlers registered for event.
func (r *Registry[T]) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

// Dispatch calls every handler for event with v, in registration order.
// It returns the number of handlers that panicked.
func (r *Registry[T]) Dispatch(event string, v T) int {
	r.mu.Lock()
	list := r.handlers[event]
	onPanic := r.onPanic
	r.mu.Unlock()

	panics := 0
	for _, h := range list {
		if !call(h.fn, v, event, onPanic) {
			panics++
		}
	}
	return panics
}

func call[T any](fn func(T), v T, event string, onPanic func(string, any)) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			if onPanic != nil {
				onPanic(event, rec)
			}
		}
	}()
	fn(v)
	return true
}

// PanicError reports a handler that panicked during dispatch.
type PanicError struct {
	Event string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %q panicked: %v", e.Event, e.Value)
}
