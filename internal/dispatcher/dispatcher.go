// Package dispatcher manages worker fan-out over the capture queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// DefaultEnqueueTimeout bounds how long Enqueue waits for queue space.
const DefaultEnqueueTimeout = 250 * time.Millisecond

// ErrQueueFull is returned when the admission queue has no room for a job.
var ErrQueueFull = errors.New("capture queue is full")

// Runner consumes queue items until its context ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a fixed pool of workers. The pool size is
// the bound on concurrent capture runs.
type Dispatcher struct {
	queue          archive.Queue
	workers        []Runner
	enqueueTimeout time.Duration
}

// New creates a Dispatcher.
func New(queue archive.Queue, workers []Runner, enqueueTimeout time.Duration) *Dispatcher {
	if enqueueTimeout <= 0 {
		enqueueTimeout = DefaultEnqueueTimeout
	}
	return &Dispatcher{
		queue:          queue,
		workers:        workers,
		enqueueTimeout: enqueueTimeout,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue. A queue that stays full past the
// enqueue timeout yields ErrQueueFull.
func (d *Dispatcher) Enqueue(ctx context.Context, item archive.QueueItem) error {
	enqueueCtx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()
	if err := d.queue.Enqueue(enqueueCtx, item); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return ErrQueueFull
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
