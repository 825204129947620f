package mailbox

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/models"
	"github.com/alexjbarnes/mailbox-sync/internal/relay"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
)

// ConnectivityObserver is told when a connectivity check succeeds.
type ConnectivityObserver interface {
	OnConnectivityCheckSucceeded()
}

// ConnectivityChecker checks whether a mailbox can be reached. Concurrent
// checks share one relay call, and a recent success is reused without a
// call at all.
type ConnectivityChecker interface {
	// CheckConnectivity calls o once the mailbox is known to be reachable.
	// If a recent check succeeded, o is called before this returns.
	CheckConnectivity(props models.MailboxProperties, o ConnectivityObserver)
	// RemoveObserver forgets a pending observer. The running check is
	// cancelled when no observers remain.
	RemoveObserver(o ConnectivityObserver)
	// Destroy cancels any running check. Later calls have no effect.
	Destroy()
}

// probeFunc makes one attempt to reach a mailbox.
type probeFunc func(ctx context.Context, props models.MailboxProperties) error

type connectivityChecker struct {
	logger    *slog.Logger
	clock     executor.Clock
	caller    APICaller
	freshness time.Duration
	probe     probeFunc

	mu          sync.Mutex
	destroyed   bool
	lastSuccess time.Time
	check       executor.Cancellable
	observers   []ConnectivityObserver
}

// NewContactConnectivityChecker returns a checker for a contact's mailbox.
// The probe lists our outbox on it.
func NewContactConnectivityChecker(logger *slog.Logger, clock executor.Clock, caller APICaller, api relay.API, freshness time.Duration) ConnectivityChecker {
	probe := func(ctx context.Context, props models.MailboxProperties) error {
		_, err := api.ListFiles(ctx, props, props.OutboxID)
		return err
	}

	return newConnectivityChecker(logger.With(slog.String("component", "contact-connectivity")), clock, caller, freshness, probe)
}

// NewOwnConnectivityChecker returns a checker for our own mailbox. The
// probe fetches the server status and records the outcome in the store.
func NewOwnConnectivityChecker(logger *slog.Logger, clock executor.Clock, caller APICaller, api relay.API, db Database, freshness time.Duration) ConnectivityChecker {
	logger = logger.With(slog.String("component", "own-connectivity"))

	probe := func(ctx context.Context, props models.MailboxProperties) error {
		versions, err := api.CheckStatus(ctx, props)
		if err != nil {
			if mberrors.Classify(err) != mberrors.KindCancelled {
				recordErr := db.Transaction(false, func(tx *state.Txn) error {
					return tx.RecordFailedConnection()
				})
				if recordErr != nil {
					logger.Warn("recording failed connection", slog.String("error", recordErr.Error()))
				}
			}

			return err
		}

		return db.Transaction(false, func(tx *state.Txn) error {
			return tx.RecordSuccessfulConnection(versions)
		})
	}

	return newConnectivityChecker(logger, clock, caller, freshness, probe)
}

func newConnectivityChecker(logger *slog.Logger, clock executor.Clock, caller APICaller, freshness time.Duration, probe probeFunc) *connectivityChecker {
	if freshness <= 0 {
		freshness = DefaultConfig().ConnectivityFreshness
	}

	return &connectivityChecker{
		logger:    logger,
		clock:     clock,
		caller:    caller,
		freshness: freshness,
		probe:     probe,
	}
}

func (c *connectivityChecker) CheckConnectivity(props models.MailboxProperties, o ConnectivityObserver) {
	c.mu.Lock()

	if c.destroyed {
		c.mu.Unlock()
		return
	}

	if c.check != nil {
		c.observers = append(c.observers, o)
		c.mu.Unlock()

		return
	}

	if c.lastSuccess.IsZero() || c.clock.Now().Sub(c.lastSuccess) > c.freshness {
		c.observers = append(c.observers, o)
		c.logger.Debug("starting connectivity check")
		c.check = c.caller.RetryWithBackoff(SimpleCall(c.logger, "connectivity_check", func(ctx context.Context) error {
			if err := c.probe(ctx, props); err != nil {
				return err
			}

			c.succeeded(c.clock.Now())

			return nil
		}))
		c.mu.Unlock()

		return
	}

	c.mu.Unlock()

	o.OnConnectivityCheckSucceeded()
}

func (c *connectivityChecker) succeeded(now time.Time) {
	c.mu.Lock()

	if c.destroyed {
		c.mu.Unlock()
		return
	}

	c.lastSuccess = now
	c.check = nil
	observers := c.observers
	c.observers = nil
	c.mu.Unlock()

	c.logger.Debug("connectivity check succeeded", slog.Int("observers", len(observers)))

	for _, o := range observers {
		o.OnConnectivityCheckSucceeded()
	}
}

func (c *connectivityChecker) RemoveObserver(o ConnectivityObserver) {
	c.mu.Lock()

	c.observers = slices.DeleteFunc(c.observers, func(x ConnectivityObserver) bool { return x == o })

	var check executor.Cancellable
	if len(c.observers) == 0 && c.check != nil {
		check = c.check
		c.check = nil
	}
	c.mu.Unlock()

	if check != nil {
		check.Cancel()
	}
}

func (c *connectivityChecker) Destroy() {
	c.mu.Lock()

	c.destroyed = true
	c.observers = nil
	check := c.check
	c.check = nil
	c.mu.Unlock()

	if check != nil {
		check.Cancel()
	}
}
