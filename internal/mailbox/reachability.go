package mailbox

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
)

// ReachabilityObserver is told when our endpoint becomes reachable.
type ReachabilityObserver interface {
	OnReachable()
}

// ReachabilityMonitor signals once our endpoint has been active long
// enough for contacts to reach it.
type ReachabilityMonitor interface {
	// AddOneShotObserver calls o once the endpoint is reachable, before
	// returning if it already is. Queued observers are called once and
	// then forgotten.
	AddOneShotObserver(o ReachabilityObserver)
	RemoveObserver(o ReachabilityObserver)
}

// Reachability implements ReachabilityMonitor from endpoint activity
// events. It is shared by every client and owned by whoever started it.
type Reachability struct {
	logger    *slog.Logger
	io        executor.Executor
	scheduler executor.Scheduler
	bus       EventBus
	endpoint  EndpointState
	period    time.Duration

	mu        sync.Mutex
	destroyed bool
	reachable bool
	gen       uint64
	task      executor.Cancellable
	observers []ReachabilityObserver
}

// NewReachability creates a monitor that reports reachability once the
// endpoint has been continuously active for period.
func NewReachability(logger *slog.Logger, io executor.Executor, scheduler executor.Scheduler, bus EventBus, endpoint EndpointState, period time.Duration) *Reachability {
	if period <= 0 {
		period = DefaultConfig().ReachabilityPeriod
	}

	return &Reachability{
		logger:    logger.With(slog.String("component", "reachability")),
		io:        io,
		scheduler: scheduler,
		bus:       bus,
		endpoint:  endpoint,
		period:    period,
	}
}

// Start subscribes to endpoint events and starts the clock if the
// endpoint is already active.
func (r *Reachability) Start() {
	r.bus.AddListener(r)

	if r.endpoint.Active() {
		r.onActive()
	}
}

// Destroy unsubscribes, cancels the pending timer and drops observers.
func (r *Reachability) Destroy() {
	r.bus.RemoveListener(r)

	r.mu.Lock()
	r.destroyed = true
	r.observers = nil
	task := r.task
	r.task = nil
	r.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
}

func (r *Reachability) EventOccurred(e events.Event) {
	switch e.(type) {
	case events.EndpointActive:
		r.onActive()
	case events.EndpointInactive:
		r.onInactive()
	}
}

func (r *Reachability) onActive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed || r.reachable || r.task != nil {
		return
	}

	gen := r.gen
	r.logger.Debug("endpoint active, waiting before reporting reachable", slog.Duration("period", r.period))
	r.task = r.scheduler.Schedule(func() { r.fire(gen) }, r.io, r.period)
}

func (r *Reachability) onInactive() {
	r.mu.Lock()
	r.gen++
	r.reachable = false
	task := r.task
	r.task = nil
	r.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
}

func (r *Reachability) fire(gen uint64) {
	r.mu.Lock()

	if r.destroyed || gen != r.gen {
		r.mu.Unlock()
		return
	}

	r.task = nil
	r.reachable = true
	observers := r.observers
	r.observers = nil
	r.mu.Unlock()

	r.logger.Info("endpoint reachable", slog.Int("observers", len(observers)))

	for _, o := range observers {
		o.OnReachable()
	}
}

func (r *Reachability) AddOneShotObserver(o ReachabilityObserver) {
	r.mu.Lock()

	if r.destroyed {
		r.mu.Unlock()
		return
	}

	if r.reachable {
		r.mu.Unlock()
		o.OnReachable()

		return
	}

	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

func (r *Reachability) RemoveObserver(o ReachabilityObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observers = slices.DeleteFunc(r.observers, func(x ReachabilityObserver) bool { return x == o })
}
