// Package connections tracks direct connections to contacts.
package connections

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
)

// Broadcaster queues events for delivery on the event loop.
type Broadcaster interface {
	Broadcast(e events.Event)
}

// Registry counts open direct connections per contact. ContactConnected
// is broadcast when the first connection to a contact opens and
// ContactDisconnected when the last one closes. Events are queued under
// the lock so their order matches the registry's.
type Registry struct {
	logger *slog.Logger
	bus    Broadcaster

	mu    sync.Mutex
	conns map[models.ContactID]int
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, bus Broadcaster) *Registry {
	return &Registry{
		logger: logger.With(slog.String("component", "connections")),
		bus:    bus,
		conns:  make(map[models.ContactID]int),
	}
}

// Register records a new connection to c.
func (r *Registry) Register(c models.ContactID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c]++
	if r.conns[c] == 1 {
		r.logger.Info("contact connected", slog.Int("contact_id", int(c)))
		r.bus.Broadcast(events.ContactConnected{Contact: c})
	}
}

// Unregister records that a connection to c closed. It reports false if
// no connection to c was open.
func (r *Registry) Unregister(c models.ContactID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.conns[c]
	if !ok {
		return false
	}

	if n > 1 {
		r.conns[c] = n - 1
	} else {
		delete(r.conns, c)
		r.logger.Info("contact disconnected", slog.Int("contact_id", int(c)))
		r.bus.Broadcast(events.ContactDisconnected{Contact: c})
	}

	return true
}

// IsConnected reports whether any connection to c is open.
func (r *Registry) IsConnected(c models.ContactID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.conns[c] > 0
}

// Connected returns the connected contacts in ascending order.
func (r *Registry) Connected() []models.ContactID {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Sorted(maps.Keys(r.conns))
}
