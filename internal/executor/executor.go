// Package executor provides the execution contexts the mailbox workers run
// on: a serial event loop, a bounded pool for relay and file I/O, and a
// scheduler for cancellable delayed tasks.
package executor

import "time"

// Executor runs tasks asynchronously. Execute must never block.
type Executor interface {
	Execute(task func())
}

// Cancellable is a handle to pending work. Cancel never blocks and may be
// called more than once.
type Cancellable interface {
	Cancel()
}

// CancelFunc adapts a function to Cancellable.
type CancelFunc func()

func (f CancelFunc) Cancel() { f() }

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
