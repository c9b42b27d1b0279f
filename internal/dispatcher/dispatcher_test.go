package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/queue/memory"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	var running atomic.Int32
	started := make(chan struct{}, 2)
	runner := runnerFunc(func(ctx context.Context) {
		running.Add(1)
		started <- struct{}{}
		<-ctx.Done()
		running.Add(-1)
	})
	dispatch := New(memory.NewQueue(1), []Runner{runner, runner}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("worker did not start")
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	if running.Load() != 0 {
		t.Fatalf("expected all workers to return, %d still running", running.Load())
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, 0)

	err := dispatch.Enqueue(context.Background(), archive.QueueItem{JobID: "job"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestDispatcherEnqueueFullQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	dispatch := New(q, nil, 10*time.Millisecond)
	if err := dispatch.Enqueue(context.Background(), archive.QueueItem{JobID: "first"}); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := dispatch.Enqueue(context.Background(), archive.QueueItem{JobID: "second"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dispatch.Enqueue(ctx, archive.QueueItem{JobID: "third"}); errors.Is(err, ErrQueueFull) || err == nil {
		t.Fatalf("caller cancellation must not look like a full queue, got %v", err)
	}
}

type runnerFunc func(ctx context.Context)

func (f runnerFunc) Run(ctx context.Context) { f(ctx) }

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, archive.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (archive.QueueItem, error) {
	return archive.QueueItem{}, nil
}
