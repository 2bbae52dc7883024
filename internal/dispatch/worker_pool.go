package dispatch

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("dispatch: worker pool closed")

// WorkerPool runs jobs on a fixed set of goroutines fed by a bounded queue.
// Submit blocks while the queue is full.
type WorkerPool struct {
	numWorkers int
	jobs       chan func()
	quit       chan struct{} // closed first by Close, releases blocked senders

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup // Submit calls between the closed check and the send
	workers sync.WaitGroup

	completed atomic.Int64
}

// NewWorkerPool starts numWorkers goroutines reading from a queue that holds
// up to queueCapacity jobs. Non-positive values select GOMAXPROCS workers and
// a queue of twice the worker count.
func NewWorkerPool(numWorkers, queueCapacity int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if queueCapacity <= 0 {
		queueCapacity = numWorkers * 2
	}

	wp := &WorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan func(), queueCapacity),
		quit:       make(chan struct{}),
	}

	wp.workers.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wp.workers.Done()
			// jobs is closed only after the last send, so ranging drains it.
			for job := range wp.jobs {
				job()
				wp.completed.Add(1)
			}
		}()
	}

	return wp
}

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

// Completed returns the number of jobs that have finished.
func (wp *WorkerPool) Completed() int64 {
	return wp.completed.Load()
}

// Submit enqueues job. It blocks while the queue is full and fails with
// ErrPoolClosed after Close or with the context error if ctx ends first.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) error {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return ErrPoolClosed
	}
	wp.senders.Add(1)
	wp.mu.Unlock()
	defer wp.senders.Done()

	// Prefer the queue when it has room, even if Close has started.
	select {
	case wp.jobs <- job:
		return nil
	default:
	}

	select {
	case wp.jobs <- job:
		return nil
	case <-wp.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await submits job and waits until it has run.
// Once submitted the job always runs to completion, even if ctx ends.
func (wp *WorkerPool) Await(ctx context.Context, job func()) error {
	done := make(chan struct{})
	if err := wp.Submit(ctx, func() {
		defer close(done)
		job()
	}); err != nil {
		return err
	}
	<-done
	return nil
}

// Close rejects new jobs, runs the queued ones and stops the workers.
// It is idempotent.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	wp.mu.Unlock()

	close(wp.quit)
	wp.senders.Wait()
	close(wp.jobs)
	wp.workers.Wait()
}
