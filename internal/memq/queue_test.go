package memq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fedutinova/readnote/internal/job"
	"github.com/google/uuid"
)

func TestDispatch_SetsEnqueued(t *testing.T) {
	q := NewMemoryQueue(10, 50*time.Millisecond)
	task := &job.Task{NoteID: uuid.New(), ImageRef: "uploads/a.png", Attempt: 1}

	if err := q.Dispatch(context.Background(), task); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}
	if task.Enqueued.IsZero() {
		t.Fatalf("expected enqueued timestamp to be set")
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 buffered task, got %d", q.Len())
	}
}

func TestDispatch_FullBufferDoesNotBlock(t *testing.T) {
	q := NewMemoryQueue(1, time.Second)
	if err := q.Dispatch(context.Background(), &job.Task{NoteID: uuid.New()}); err != nil {
		t.Fatalf("first Dispatch error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Dispatch(context.Background(), &job.Task{NoteID: uuid.New()}) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Dispatch blocked on a full buffer")
	}
}

func TestStartConsumers_RunsHandler(t *testing.T) {
	q := NewMemoryQueue(10, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *job.Task, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, task *job.Task) error {
		got <- task
		return nil
	})

	id := uuid.New()
	if err := q.Dispatch(context.Background(), &job.Task{NoteID: id, Attempt: 2}); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}

	select {
	case task := <-got:
		if task.NoteID != id || task.Attempt != 2 {
			t.Fatalf("unexpected task: %+v", task)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for task handler")
	}
}

func TestStartConsumers_HandlerDeadline(t *testing.T) {
	q := NewMemoryQueue(10, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, task *job.Task) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})

	if err := q.Dispatch(context.Background(), &job.Task{NoteID: uuid.New()}); err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler context was never cancelled")
	}
}

func TestClose_StopsConsumers(t *testing.T) {
	q := NewMemoryQueue(10, time.Second)
	q.StartConsumers(context.Background(), 3, func(ctx context.Context, task *job.Task) error { return nil })

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("Close did not return")
	}

	if err := q.Dispatch(context.Background(), &job.Task{NoteID: uuid.New()}); err == nil {
		t.Fatalf("expected Dispatch after Close to fail")
	}
}
