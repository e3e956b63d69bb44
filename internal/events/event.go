package events

import "sync"

// Event is a minimal typed observer. Listeners register a callback and get
// back a deregistration func; calling it more than once is harmless.
// T is the value passed to listeners on Notify.
type Event[T any] struct {
	mu         sync.RWMutex
	listeners  map[uint64]func(T)
	nextID     uint64
	replayLast bool
	last       *T
}

// NewEvent creates an Event. When replayLast is true a newly registered
// listener is immediately called with the most recent Notify value, if any.
func NewEvent[T any](replayLast bool) *Event[T] {
	return &Event[T]{
		listeners:  make(map[uint64]func(T)),
		replayLast: replayLast,
	}
}

// Listen registers a callback and returns the func that removes it.
func (e *Event[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("events: callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = callback
	var replay *T
	if e.replayLast && e.last != nil {
		v := *e.last
		replay = &v
	}
	e.mu.Unlock()

	// Replay outside the lock so the callback may re-enter the event.
	if replay != nil {
		callback(*replay)
	}

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify calls every registered listener with value.
func (e *Event[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		v := value
		e.last = &v
	}
	snapshot := make([]func(T), 0, len(e.listeners))
	for _, cb := range e.listeners {
		snapshot = append(snapshot, cb)
	}
	e.mu.Unlock()

	for _, cb := range snapshot {
		cb(value)
	}
}

// ListenerCount reports the number of registered listeners.
func (e *Event[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
