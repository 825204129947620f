package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs tasks concurrently, at most size at a time. Execute returns
// immediately; tasks wait for a slot on their own goroutine.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given concurrency limit.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Execute schedules task. Tasks submitted after Close are dropped.
func (p *Pool) Execute(task func()) {
	if p.ctx.Err() != nil {
		return
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)

		task()
	}()
}

// Close stops accepting tasks, drops tasks still waiting for a slot and
// waits for running tasks to return.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}
