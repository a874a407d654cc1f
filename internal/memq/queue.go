package memq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/readnote/internal/job"
)

// ErrQueueFull is returned by Dispatch when the buffer has no room. The
// job record stays in processing and is resolved by the client's timeout.
var ErrQueueFull = errors.New("dispatch queue full")

// Queue is an in-process dispatcher backed by a buffered channel.
type Queue struct {
	buf     chan *job.Task
	maxWait time.Duration

	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(buffer int, maxJobDuration time.Duration) *Queue {
	return &Queue{
		buf:     make(chan *job.Task, buffer),
		maxWait: maxJobDuration,
		closing: make(chan struct{}),
	}
}

// Dispatch never blocks on a full buffer.
func (q *Queue) Dispatch(ctx context.Context, t *job.Task) error {
	if t.Enqueued.IsZero() {
		t.Enqueued = time.Now()
	}

	select {
	case <-q.closing:
		return errors.New("dispatch queue closed")
	default:
	}

	select {
	case q.buf <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *Queue) StartConsumers(ctx context.Context, n int, handler job.Handler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.closing:
					return
				case t := <-q.buf:
					q.run(ctx, t, handler, workerID)
				}
			}
		}(i + 1)
	}
}

func (q *Queue) run(ctx context.Context, t *job.Task, handler job.Handler, workerID int) {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	err := handler(runCtx, t)
	cancel()

	if err != nil {
		slog.Error("task failed", "note_id", t.NoteID, "attempt", t.Attempt, "err", err, "worker", workerID)
		return
	}
	slog.Info("task done", "note_id", t.NoteID, "attempt", t.Attempt, "worker", workerID,
		"duration", time.Since(start))
}

func (q *Queue) Len() int {
	return len(q.buf)
}

// Close stops the consumers after their current task and drops whatever is
// still buffered.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.closing) })
	q.wg.Wait()
	return nil
}
