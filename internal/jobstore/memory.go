package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/google/uuid"
)

type Memory struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]job.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[uuid.UUID]job.Job)}
}

func (m *Memory) Arm(ctx context.Context, noteID uuid.UUID, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.jobs[noteID]
	j := job.Job{
		NoteID:    noteID,
		Status:    job.StatusProcessing,
		Attempt:   prev.Attempt + 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[noteID] = j
	return &j, nil
}

func (m *Memory) Get(ctx context.Context, noteID uuid.UUID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[noteID]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	return &j, nil
}

func (m *Memory) Complete(ctx context.Context, noteID uuid.UUID, attempt int64, res job.Result, now time.Time) error {
	if err := validateResult(res); err != nil {
		return err
	}
	return m.settle(noteID, attempt, func(j *job.Job) {
		j.Status = job.StatusCompleted
		j.ExtractedText = res.Text
		j.DerivedQuote = res.Quote
		j.DerivedMemo = res.Memo
		j.UpdatedAt = now
	})
}

func (m *Memory) Fail(ctx context.Context, noteID uuid.UUID, attempt int64, reason string, now time.Time) error {
	return m.settle(noteID, attempt, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.Error = reason
		j.UpdatedAt = now
	})
}

func (m *Memory) settle(noteID uuid.UUID, attempt int64, apply func(*job.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[noteID]
	if !ok {
		return common.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing || j.Attempt != attempt {
		return ErrStaleAttempt
	}
	apply(&j)
	m.jobs[noteID] = j
	return nil
}
