// Package jobs runs background jobs one at a time. A trigger that arrives
// while a job is in flight is rejected rather than queued.
package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
)

var (
	ErrBusy   = errors.New("jobs: a run is already in flight")
	ErrClosed = errors.New("jobs: runner is closed")
)

type Job func(ctx context.Context) error

type Runner struct {
	queue  chan namedJob
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	busy   bool
	closed bool
}

type namedJob struct {
	name string
	run  Job
}

// New starts the worker. Jobs receive a context derived from ctx that is also
// cancelled when Shutdown gives up waiting.
func New(ctx context.Context) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{
		queue:  make(chan namedJob, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.work()
	return r
}

// Submit hands job to the worker without blocking.
func (r *Runner) Submit(name string, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.busy {
		return ErrBusy
	}
	r.busy = true
	r.queue <- namedJob{name: name, run: job}
	return nil
}

// Busy reports whether a job is queued or running.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

func (r *Runner) work() {
	defer close(r.done)
	for j := range r.queue {
		if err := j.run(r.ctx); err != nil {
			log.Printf("Warning: job %s failed: %v", j.name, err)
		}
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}
}

// Shutdown stops accepting jobs and waits for the in-flight one. If ctx ends
// first, the job's context is cancelled and ctx.Err() is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}
