package job

import (
	"context"
	"time"

	uuid "github.com/google/uuid"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// TimeoutReason is recorded when the observer gives up on a processing job.
const TimeoutReason = "timed out waiting for extraction"

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the extraction record of a single note. The record is keyed by the
// note id and overwritten on every (re)submission; Attempt identifies which
// submission the current state belongs to.
type Job struct {
	NoteID        uuid.UUID `json:"note_id"`
	Status        Status    `json:"status"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	DerivedQuote  *string   `json:"derived_quote,omitempty"`
	DerivedMemo   *string   `json:"derived_memo,omitempty"`
	Error         string    `json:"error,omitempty"`
	Attempt       int64     `json:"attempt"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Result is the payload of a completed extraction.
type Result struct {
	Text  string
	Quote *string
	Memo  *string
}

// Task is the message handed to the extraction worker.
type Task struct {
	NoteID   uuid.UUID `json:"note_id"`
	ImageRef string    `json:"image_ref"`
	UserID   string    `json:"user_id,omitempty"`
	Attempt  int64     `json:"attempt"`
	Enqueued time.Time `json:"enqueued_at"`
}

type Handler func(ctx context.Context, t *Task) error

// Dispatcher hands tasks to background consumers without waiting for them.
type Dispatcher interface {
	Dispatch(ctx context.Context, t *Task) error
	StartConsumers(ctx context.Context, n int, h Handler)
	Len() int
	Close() error
}
