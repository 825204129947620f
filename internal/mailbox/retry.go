package mailbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mberrors "github.com/alexjbarnes/mailbox-sync/internal/errors"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/metrics"
)

const (
	// DefaultRetryMin is the delay before the first retry.
	DefaultRetryMin = time.Minute

	// DefaultRetryMax caps the backoff.
	DefaultRetryMax = 24 * time.Hour
)

// APICall is one attempt at a relay operation. Call reports whether the
// attempt should be retried. ctx is cancelled when the call is cancelled.
type APICall interface {
	Call(ctx context.Context) bool
}

// APICallFunc adapts a function to APICall.
type APICallFunc func(ctx context.Context) bool

func (f APICallFunc) Call(ctx context.Context) bool { return f(ctx) }

// APICaller runs calls with retries.
type APICaller interface {
	// RetryWithBackoff runs call on the I/O pool, repeating it with
	// exponential backoff for as long as it asks to be retried. Cancel
	// never blocks and may be called while holding a worker lock.
	RetryWithBackoff(call APICall) executor.Cancellable
}

// RetryCaller implements APICaller. The first retry waits min, each later
// retry doubles the wait up to max.
type RetryCaller struct {
	io        executor.Executor
	scheduler executor.Scheduler
	min, max  time.Duration
}

// NewRetryCaller creates a RetryCaller. Non-positive bounds fall back to
// the defaults.
func NewRetryCaller(io executor.Executor, scheduler executor.Scheduler, minInterval, maxInterval time.Duration) *RetryCaller {
	if minInterval <= 0 {
		minInterval = DefaultRetryMin
	}

	if maxInterval <= 0 {
		maxInterval = DefaultRetryMax
	}

	maxInterval = max(maxInterval, minInterval)

	return &RetryCaller{io: io, scheduler: scheduler, min: minInterval, max: maxInterval}
}

func (r *RetryCaller) RetryWithBackoff(call APICall) executor.Cancellable {
	ctx, cancel := context.WithCancel(context.Background())

	t := &retryTask{
		caller:   r,
		call:     call,
		ctx:      ctx,
		stop:     cancel,
		interval: r.min,
	}

	r.io.Execute(t.run)

	return t
}

type retryTask struct {
	caller *RetryCaller
	call   APICall
	ctx    context.Context
	stop   context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	interval  time.Duration
	scheduled executor.Cancellable
}

func (t *retryTask) run() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.scheduled = nil
	t.mu.Unlock()

	if !t.call.Call(t.ctx) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return
	}

	delay := t.interval
	t.interval = min(2*t.interval, t.caller.max)

	metrics.RetryScheduled()

	t.scheduled = t.caller.scheduler.Schedule(t.run, t.caller.io, delay)
}

func (t *retryTask) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	scheduled := t.scheduled
	t.scheduled = nil
	t.mu.Unlock()

	t.stop()

	if scheduled != nil {
		scheduled.Cancel()
	}
}

// SimpleCall wraps fn as an APICall that is retried only when fn fails
// with a retryable error. Tolerable failures end the call quietly;
// permanent failures and invariant violations end it with an error log.
func SimpleCall(logger *slog.Logger, op string, fn func(ctx context.Context) error) APICall {
	return APICallFunc(func(ctx context.Context) bool {
		err := fn(ctx)
		kind := mberrors.Classify(err)

		metrics.RelayCall(op, kind.String())

		switch kind {
		case mberrors.KindNone, mberrors.KindCancelled:
			return false
		case mberrors.KindTolerable:
			logger.Info("relay call ended", slog.String("op", op), slog.String("error", err.Error()))
			return false
		case mberrors.KindPermanent, mberrors.KindInvariant:
			logger.Error("relay call failed permanently", slog.String("op", op), slog.String("error", err.Error()))
			return false
		default:
			logger.Warn("relay call failed, will retry", slog.String("op", op), slog.String("error", err.Error()))
			return true
		}
	})
}
