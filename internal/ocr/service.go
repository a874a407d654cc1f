// Package ocr holds the submission side and the background worker of the
// extraction pipeline. The job record, not the dispatch, is the source of
// truth for progress.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/jobstore"
	"github.com/fedutinova/readnote/internal/models"
	"github.com/fedutinova/readnote/internal/validation"
	"github.com/google/uuid"
)

var (
	ErrNoImage       = errors.New("note has no image to extract")
	ErrJobInProgress = fmt.Errorf("extraction already in progress: %w", common.ErrConflict)
)

// NoteReader resolves notes owned by the main application.
type NoteReader interface {
	GetNote(ctx context.Context, id uuid.UUID) (*models.Note, error)
}

type SubmitRequest struct {
	NoteID   string `json:"note_id" validate:"required,uuid"`
	ImageRef string `json:"image_ref" validate:"required,max=2048"`
	CallerID string `json:"-"`
}

type SubmitResult struct {
	Accepted bool      `json:"accepted"`
	NoteID   uuid.UUID `json:"note_id"`
	Attempt  int64     `json:"attempt"`
}

type Service struct {
	notes      NoteReader
	store      jobstore.Store
	dispatcher job.Dispatcher
	staleAfter time.Duration
	now        func() time.Time
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the gateway. staleAfter is the age after which a job still
// in processing is considered abandoned and may be retried.
func NewService(notes NoteReader, store jobstore.Store, dispatcher job.Dispatcher, staleAfter time.Duration, opts ...ServiceOption) *Service {
	s := &Service{
		notes:      notes,
		store:      store,
		dispatcher: dispatcher,
		staleAfter: staleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a processing job for the note and hands it to a worker. It
// returns as soon as the record is written.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	req.NoteID = strings.TrimSpace(req.NoteID)
	req.ImageRef = strings.TrimSpace(req.ImageRef)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	noteID, err := uuid.Parse(req.NoteID)
	if err != nil {
		return nil, common.ValidationError{Field: "note_id", Message: "must be a valid UUID"}
	}

	if _, err := s.authorize(ctx, noteID, req.CallerID); err != nil {
		return nil, err
	}

	return s.start(ctx, noteID, req.ImageRef, req.CallerID)
}

// Retry re-submits the note's current image. A job that is still processing
// and younger than staleAfter is left alone.
func (s *Service) Retry(ctx context.Context, noteID uuid.UUID, callerID string) (*SubmitResult, error) {
	note, err := s.authorize(ctx, noteID, callerID)
	if err != nil {
		return nil, err
	}
	if note.ImageURL == nil || strings.TrimSpace(*note.ImageURL) == "" {
		return nil, ErrNoImage
	}

	current, err := s.store.Get(ctx, noteID)
	switch {
	case err == nil:
		if current.Status == job.StatusProcessing && s.now().Sub(current.CreatedAt) < s.staleAfter {
			return nil, ErrJobInProgress
		}
	case errors.Is(err, common.ErrJobNotFound):
	default:
		return nil, fmt.Errorf("failed to read job: %w", err)
	}

	return s.start(ctx, noteID, strings.TrimSpace(*note.ImageURL), callerID)
}

func (s *Service) Status(ctx context.Context, noteID uuid.UUID, callerID string) (*job.Job, error) {
	if _, err := s.authorize(ctx, noteID, callerID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, noteID)
}

// Expire fails the given attempt on behalf of a poller that ran out of time.
// It returns jobstore.ErrStaleAttempt when the attempt already settled or was
// superseded.
func (s *Service) Expire(ctx context.Context, noteID uuid.UUID, callerID string, attempt int64) (*job.Job, error) {
	if _, err := s.authorize(ctx, noteID, callerID); err != nil {
		return nil, err
	}
	if err := s.store.Fail(ctx, noteID, attempt, job.TimeoutReason, s.now()); err != nil {
		return nil, err
	}
	slog.Warn("Job expired by poller", "note_id", noteID, "attempt", attempt)
	return s.store.Get(ctx, noteID)
}

func (s *Service) start(ctx context.Context, noteID uuid.UUID, imageRef, callerID string) (*SubmitResult, error) {
	j, err := s.store.Arm(ctx, noteID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	task := &job.Task{
		NoteID:   noteID,
		ImageRef: imageRef,
		UserID:   callerID,
		Attempt:  j.Attempt,
	}
	// the record is already durable; a lost dispatch surfaces as a poller timeout
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		slog.Error("Failed to dispatch extraction", "note_id", noteID, "attempt", j.Attempt, "error", err)
	} else {
		slog.Info("Extraction dispatched", "note_id", noteID, "attempt", j.Attempt)
	}

	return &SubmitResult{Accepted: true, NoteID: noteID, Attempt: j.Attempt}, nil
}

func (s *Service) authorize(ctx context.Context, noteID uuid.UUID, callerID string) (*models.Note, error) {
	note, err := s.notes.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if callerID == "" || note.UserID != callerID {
		return nil, common.ErrForbidden
	}
	return note, nil
}
