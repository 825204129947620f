package executor

import (
	"sync"
	"time"
)

// Scheduler runs tasks after a delay.
type Scheduler interface {
	// Schedule runs task on exec once delay has elapsed. Cancelling the
	// returned handle guarantees task will not be submitted afterwards.
	Schedule(task func(), exec Executor, delay time.Duration) Cancellable
}

// TimerScheduler implements Scheduler with runtime timers.
type TimerScheduler struct{}

type timerTask struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

func (TimerScheduler) Schedule(task func(), exec Executor, delay time.Duration) Cancellable {
	t := &timerTask{}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if !t.cancelled {
			exec.Execute(task)
		}
	})

	return t
}

func (t *timerTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
