package download

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("queue did not go idle: %v", err)
	}
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	q := NewQueue(3, nil)
	var running, peak int32

	for i := 0; i < 20; i++ {
		q.Submit(func() {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	waitIdle(t, q)

	if got := atomic.LoadInt32(&peak); got > 3 {
		t.Errorf("peak concurrency %d exceeds 3", got)
	}
	if got := atomic.LoadInt32(&peak); got < 2 {
		t.Errorf("expected tasks to overlap, peak was %d", got)
	}
}

func TestQueue_FIFOStartOrder(t *testing.T) {
	q := NewQueue(1, nil)
	var mu sync.Mutex
	var order []int

	for i := 0; i < 10; i++ {
		i := i
		q.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	waitIdle(t, q)

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestQueue_OnIdleOncePerTransition(t *testing.T) {
	var idles int32
	q := NewQueue(2, func() { atomic.AddInt32(&idles, 1) })

	for round := 1; round <= 3; round++ {
		for i := 0; i < 5; i++ {
			q.Submit(func() { time.Sleep(time.Millisecond) })
		}
		waitIdle(t, q)
		if got := atomic.LoadInt32(&idles); got != int32(round) {
			t.Errorf("round %d: onIdle called %d times", round, got)
		}
	}
}

func TestQueue_StopDropsPendingOnly(t *testing.T) {
	q := NewQueue(1, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	var ran int32

	q.Submit(func() {
		close(started)
		<-release
		atomic.AddInt32(&ran, 1)
	})
	for i := 0; i < 5; i++ {
		q.Submit(func() { atomic.AddInt32(&ran, 1) })
	}

	<-started
	if q.Pending() != 5 || q.Active() != 1 {
		t.Fatalf("expected 1 active/5 pending, got %d/%d", q.Active(), q.Pending())
	}
	q.Stop()
	close(release)
	waitIdle(t, q)

	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Errorf("expected only the running task to complete, got %d", got)
	}
}

func TestQueue_FailureDoesNotAffectOthers(t *testing.T) {
	q := NewQueue(2, nil)
	var mu sync.Mutex
	results := make(map[int]error)

	for i := 0; i < 6; i++ {
		i := i
		q.Submit(func() {
			var err error
			if i == 2 {
				err = ErrTransport
			}
			mu.Lock()
			results[i] = err
			mu.Unlock()
		})
	}
	waitIdle(t, q)

	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	if results[2] == nil {
		t.Error("expected task 2 to fail")
	}
}

func TestQueue_WaitIdleAndCancel(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.Wait(context.Background()); err != nil {
		t.Fatalf("empty queue should be idle: %v", err)
	}

	block := make(chan struct{})
	q.Submit(func() { <-block })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(block)
	waitIdle(t, q)
}

func TestNewQueue_ClampsConcurrency(t *testing.T) {
	q := NewQueue(0, nil)
	if q.concurrency != 1 {
		t.Errorf("expected concurrency 1, got %d", q.concurrency)
	}
}
