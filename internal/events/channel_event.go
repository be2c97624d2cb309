package events

import (
	"sync"
)

// ChannelEvent is a typed pub/sub primitive: listeners register buffered
// channels and Notify fans a value out to all of them without blocking.
// T is the value type delivered to listeners.
type ChannelEvent[T any] struct {
	mu          sync.RWMutex
	channels    map[uint64]chan<- T
	nextID      uint64
	replayLast  bool
	lastEvent   *T
	hasNotified bool
}

// NewChannelEvent creates a ChannelEvent. When replayLast is true the most
// recent Notify value is delivered to each new listener on registration, so
// late subscribers see current state (connection status, view models) rather
// than waiting for the next change.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels:   make(map[uint64]chan<- T),
		replayLast: replayLast,
	}
}

// Listen registers a channel to receive values from Notify and returns a
// deregistration function. The channel should be buffered; sends to a full
// channel are dropped, never blocked on.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	var replay *T
	if e.replayLast && e.hasNotified && e.lastEvent != nil {
		v := *e.lastEvent
		replay = &v
	}
	e.mu.Unlock()

	// Replay outside the lock so a listener draining synchronously can't deadlock.
	if replay != nil {
		select {
		case ch <- *replay:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify sends value to every registered channel. Thread-safe; full channels
// are skipped rather than blocked on.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		if e.lastEvent == nil {
			e.lastEvent = new(T)
		}
		*e.lastEvent = value
		e.hasNotified = true
	}
	targets := make([]chan<- T, 0, len(e.channels))
	for _, ch := range e.channels {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- value:
		default:
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}
