package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fedutinova/readnote/internal/job"
	"github.com/redis/go-redis/v9"
)

// RedisQueue dispatches tasks over a Redis Streams consumer group. Tasks are
// never redelivered: a message left pending by a dead consumer is moved to
// the dead letter stream and the job is resolved by the client's timeout.
type RedisQueue struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	maxWait       time.Duration
	claimInterval time.Duration
	claimTimeout  time.Duration

	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

// RedisQueueConfig holds configuration for RedisQueue
type RedisQueueConfig struct {
	Stream        string
	Group         string
	Consumer      string
	MaxJobTime    time.Duration
	ClaimInterval time.Duration
	ClaimTimeout  time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Stream:        "readnote:ocr",
		Group:         "ocr-workers",
		MaxJobTime:    2 * time.Minute,
		ClaimInterval: 30 * time.Second,
		ClaimTimeout:  5 * time.Minute,
	}
}

// NewRedisQueue creates a new Redis Streams based queue
func NewRedisQueue(ctx context.Context, client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Consumer == "" {
		cfg.Consumer = "worker"
	}
	q := &RedisQueue{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		consumer:      cfg.Consumer,
		maxWait:       cfg.MaxJobTime,
		claimInterval: cfg.ClaimInterval,
		claimTimeout:  cfg.ClaimTimeout,
		closing:       make(chan struct{}),
	}

	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	slog.Info("Redis queue initialized",
		"stream", q.stream,
		"group", q.group,
		"max_job_time", q.maxWait,
		"claim_timeout", q.claimTimeout)

	return q, nil
}

func (q *RedisQueue) deadLetterStream() string {
	return q.stream + ":deadletter"
}

// Dispatch appends the task to the stream.
func (q *RedisQueue) Dispatch(ctx context.Context, t *job.Task) error {
	if t.Enqueued.IsZero() {
		t.Enqueued = time.Now()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"note_id": t.NoteID.String(),
			"data":    string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add task to stream: %w", err)
	}

	slog.Debug("Task dispatched", "note_id", t.NoteID, "attempt", t.Attempt)
	return nil
}

// Len returns the number of delivered but unacknowledged tasks
func (q *RedisQueue) Len() int {
	info, err := q.client.XInfoGroups(context.Background(), q.stream).Result()
	if err != nil {
		return 0
	}
	for _, g := range info {
		if g.Name == q.group {
			return int(g.Pending + g.Lag)
		}
	}
	return 0
}

// StartConsumers starts n consumer goroutines and the dead letter sweeper
func (q *RedisQueue) StartConsumers(ctx context.Context, n int, handler job.Handler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.consume(ctx, i+1, handler)
	}

	q.wg.Add(1)
	go q.sweeper(ctx)

	slog.Info("Started queue consumers", "count", n)
}

func (q *RedisQueue) consume(ctx context.Context, workerID int, handler job.Handler) {
	defer q.wg.Done()
	consumerName := fmt.Sprintf("%s-%d", q.consumer, workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Consumer shutting down", "worker", workerID)
			return
		case <-q.closing:
			slog.Info("Consumer received close signal", "worker", workerID)
			return
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumerName,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Error("Failed to read from stream", "error", err, "worker", workerID)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.processMessage(ctx, msg, handler, workerID)
			}
		}
	}
}

// sweeper periodically moves long-pending tasks to the dead letter stream
func (q *RedisQueue) sweeper(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-ticker.C:
			q.sweepStuck(ctx)
		}
	}
}

func (q *RedisQueue) sweepStuck(ctx context.Context) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Idle:   q.claimTimeout,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("Failed to get pending entries", "error", err)
		}
		return
	}

	for _, p := range pending {
		msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer + "-sweeper",
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			slog.Error("Failed to claim stuck task", "message_id", p.ID, "error", err)
			continue
		}
		for _, msg := range msgs {
			q.moveToDeadLetter(ctx, msg, fmt.Sprintf("consumer %s idle for %s", p.Consumer, p.Idle))
		}
	}
}

func (q *RedisQueue) processMessage(ctx context.Context, msg redis.XMessage, handler job.Handler, workerID int) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		slog.Error("Invalid message format", "message_id", msg.ID)
		q.moveToDeadLetter(ctx, msg, "invalid message format")
		return
	}

	var t job.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		slog.Error("Failed to unmarshal task", "message_id", msg.ID, "error", err)
		q.moveToDeadLetter(ctx, msg, "unmarshal: "+err.Error())
		return
	}

	start := time.Now()
	slog.Info("Processing task", "note_id", t.NoteID, "attempt", t.Attempt, "worker", workerID)

	runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	err := handler(runCtx, &t)
	cancel()

	if err != nil {
		slog.Error("Task failed", "note_id", t.NoteID, "attempt", t.Attempt, "error", err, "worker", workerID)
	} else {
		slog.Info("Task completed", "note_id", t.NoteID, "attempt", t.Attempt, "worker", workerID,
			"duration", time.Since(start))
	}

	// the handler settles the job record itself, so every delivery is acked
	q.ackMessage(ctx, msg.ID)
}

func (q *RedisQueue) moveToDeadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadLetterStream(),
		Values: map[string]any{
			"original_id": msg.ID,
			"data":        msg.Values["data"],
			"reason":      reason,
			"moved_at":    time.Now().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		slog.Error("Failed to move to dead letter", "message_id", msg.ID, "error", err)
	} else {
		slog.Warn("Moved task to dead letter stream", "message_id", msg.ID, "reason", reason)
	}

	q.ackMessage(ctx, msg.ID)
}

func (q *RedisQueue) ackMessage(ctx context.Context, messageID string) {
	if err := q.client.XAck(context.WithoutCancel(ctx), q.stream, q.group, messageID).Err(); err != nil {
		slog.Error("Failed to ack message", "message_id", messageID, "error", err)
	}
}

// Close stops consumers and waits for in-flight tasks
func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closing) })
	q.wg.Wait()
	slog.Info("Queue closed gracefully")
	return nil
}

// DeadLetterCount returns the number of tasks in the dead letter stream
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.deadLetterStream()).Result()
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
