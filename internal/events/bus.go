package events

import (
	"slices"
	"sync"

	"github.com/alexjbarnes/mailbox-sync/internal/executor"
)

// Listener receives events on the event loop. Listeners are compared by
// identity, so implementations should be pointers.
type Listener interface {
	EventOccurred(e Event)
}

// Bus delivers events to listeners on a serial executor.
type Bus struct {
	exec executor.Executor

	mu        sync.RWMutex
	listeners []Listener
}

// NewBus creates a bus that delivers on exec.
func NewBus(exec executor.Executor) *Bus {
	return &Bus{exec: exec}
}

// AddListener registers l. Adding the same listener twice has no effect.
func (b *Bus) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if slices.Contains(b.listeners, l) {
		return
	}

	b.listeners = append(b.listeners, l)
}

// RemoveListener unregisters l. Events already queued may still reach it.
func (b *Bus) RemoveListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = slices.DeleteFunc(b.listeners, func(x Listener) bool { return x == l })
}

// Broadcast queues e for delivery on the executor.
func (b *Bus) Broadcast(e Event) {
	b.exec.Execute(func() { b.Dispatch(e) })
}

// Dispatch delivers e synchronously to every current listener. It must
// only be called from the executor the bus was created with.
func (b *Bus) Dispatch(e Event) {
	b.mu.RLock()
	listeners := slices.Clone(b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		l.EventOccurred(e)
	}
}
