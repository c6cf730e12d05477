package events

import (
	"sync"
)

// Listener reacts to a published value.
type Listener[T any] func(T)

// Emitter provides in-process pub/sub for values of one type.
//
// Listeners run synchronously on the publishing goroutine and without the
// emitter lock held, so a listener may publish or subscribe again. Values are
// delivered to every listener in publish order: a publish that happens while
// another goroutine (or an outer listener call) is delivering is queued and
// handed out by that deliverer once the current value is done.
type Emitter[T any] struct {
	mu         sync.Mutex
	nextID     uint64
	listeners  map[uint64]Listener[T]
	order      []uint64
	pending    []T
	delivering bool
}

// NewEmitter constructs an emitter without listeners.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{listeners: make(map[uint64]Listener[T])}
}

// Subscribe registers a listener. The returned function removes it; calling
// it more than once is a no-op.
func (e *Emitter[T]) Subscribe(listener Listener[T]) (unsubscribe func()) {
	if listener == nil {
		return func() {}
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = listener
	e.order = append(e.order, id)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.listeners, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Publish hands value to every listener.
func (e *Emitter[T]) Publish(value T) {
	e.Enqueue(value)
	e.Flush()
}

// Enqueue appends value to the delivery queue without running listeners.
// Callers that must fix the delivery order while holding their own lock
// enqueue under that lock and call Flush after releasing it.
func (e *Emitter[T]) Enqueue(value T) {
	e.mu.Lock()
	e.pending = append(e.pending, value)
	e.mu.Unlock()
}

// Flush delivers queued values unless another call is already delivering,
// in which case that call picks them up.
func (e *Emitter[T]) Flush() {
	e.mu.Lock()
	if e.delivering {
		e.mu.Unlock()
		return
	}
	e.delivering = true

	for len(e.pending) > 0 {
		next := e.pending[0]
		e.pending = e.pending[1:]
		ids := append([]uint64(nil), e.order...)
		e.mu.Unlock()

		for _, id := range ids {
			e.mu.Lock()
			listener, ok := e.listeners[id]
			e.mu.Unlock()
			if ok {
				deliver(listener, next)
			}
		}

		e.mu.Lock()
	}

	e.pending = nil
	e.delivering = false
	e.mu.Unlock()
}

// deliver isolates listener panics so the deliverer keeps draining.
func deliver[T any](listener Listener[T], value T) {
	defer func() { _ = recover() }()
	listener(value)
}
