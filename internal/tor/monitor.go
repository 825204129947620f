// Package tor watches the local Tor client and reports whether our
// endpoint on the network is up.
package tor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
)

// probeTimeout bounds one probe of the SOCKS port.
const probeTimeout = 5 * time.Second

// ProbeFunc reports an error when the endpoint is down.
type ProbeFunc func(ctx context.Context) error

// Broadcaster queues events for delivery on the event loop.
type Broadcaster interface {
	Broadcast(e events.Event)
}

// DialProbe returns a probe that opens and closes a TCP connection to
// the SOCKS port at addr.
func DialProbe(addr string) ProbeFunc {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		var d net.Dialer

		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dialing socks port %s: %w", addr, err)
		}

		return conn.Close()
	}
}

// Monitor probes the endpoint periodically and broadcasts EndpointActive
// and EndpointInactive on every transition. The endpoint starts inactive.
type Monitor struct {
	logger   *slog.Logger
	bus      Broadcaster
	probe    ProbeFunc
	interval time.Duration

	mu     sync.Mutex
	active bool
}

// NewMonitor creates a monitor. Nothing is probed until Check or Run.
func NewMonitor(logger *slog.Logger, bus Broadcaster, probe ProbeFunc, interval time.Duration) *Monitor {
	return &Monitor{
		logger:   logger.With(slog.String("component", "tor")),
		bus:      bus,
		probe:    probe,
		interval: interval,
	}
}

// Active reports the result of the latest probe.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active
}

// Check probes once and reports the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.probe(ctx)
	if ctx.Err() != nil {
		return m.Active()
	}

	up := err == nil

	m.mu.Lock()
	changed := up != m.active
	m.active = up
	m.mu.Unlock()

	if !changed {
		return up
	}

	if up {
		m.logger.Info("endpoint active")
		m.bus.Broadcast(events.EndpointActive{})
	} else {
		m.logger.Warn("endpoint inactive", slog.String("error", err.Error()))
		m.bus.Broadcast(events.EndpointInactive{})
	}

	return up
}

// Run probes every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Check(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
