package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Loop is a serial executor. Tasks run one at a time, in submission order,
// on the goroutine that called Run. The queue is unbounded so Execute never
// blocks the submitter.
type Loop struct {
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

// NewLoop creates an event loop. Call Run to start processing.
func NewLoop(logger *slog.Logger) *Loop {
	return &Loop{
		logger: logger.With(slog.String("component", "event-loop")),
		notify: make(chan struct{}, 1),
	}
}

// Execute queues task to run after every previously queued task.
func (l *Loop) Execute(task func()) {
	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run processes tasks until ctx is cancelled. Tasks still queued at that
// point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("event loop started")

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}

			if ctx.Err() != nil {
				return nil
			}

			l.run(task)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.notify:
		}
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.queue)
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}

	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]

	return task, true
}

// run executes one task. A panicking task takes the process down, but
// only after the failure has been logged with context.
func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", slog.String("panic", fmt.Sprint(r)))
			panic(r)
		}
	}()

	task()
}
