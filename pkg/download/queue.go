// Package download runs bounded-concurrency blob downloads and verifies
// them against their content hash before they become visible.
package download

import (
	"context"
	"sync"
)

// Queue runs submitted tasks with at most N in flight. Tasks start in
// submission order. A task's failure is its own business: the queue only
// tracks that it finished.
type Queue struct {
	concurrency int
	onIdle      func()

	mu      sync.Mutex
	pending []func()
	active  int
	idle    chan struct{} // closed while nothing is queued or running
}

// NewQueue creates a queue. Concurrency below 1 is treated as 1. onIdle,
// if set, is called once each time the queue goes from busy to idle.
func NewQueue(concurrency int, onIdle func()) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		concurrency: concurrency,
		onIdle:      onIdle,
		idle:        idle,
	}
}

// Submit enqueues a task and starts it right away if a slot is free.
func (q *Queue) Submit(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == 0 && len(q.pending) == 0 {
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, task)
	q.startLocked()
}

// Stop drops every task that has not started yet. Running tasks finish
// normally.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.pending {
		q.pending[i] = nil
	}
	q.pending = q.pending[:0]
}

// Wait blocks until the queue is idle or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of running tasks.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Pending returns the number of tasks waiting for a slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// startLocked must be called with q.mu held.
func (q *Queue) startLocked() {
	for q.active < q.concurrency && len(q.pending) > 0 {
		task := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.active++
		go q.run(task)
	}
}

func (q *Queue) run(task func()) {
	defer q.finish()
	task()
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.active--
	q.startLocked()
	var idle chan struct{}
	if q.active == 0 && len(q.pending) == 0 {
		idle = q.idle
	}
	q.mu.Unlock()

	if idle == nil {
		return
	}
	// onIdle runs before waiters are released.
	if q.onIdle != nil {
		q.onIdle()
	}
	close(idle)
}
