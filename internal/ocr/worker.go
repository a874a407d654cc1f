package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/jobstore"
	"github.com/fedutinova/readnote/internal/models"
	"github.com/fedutinova/readnote/internal/provider"
)

const (
	DefaultProviderTimeout = 60 * time.Second
	settleTimeout          = 10 * time.Second
)

type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) (provider.Image, error)
}

// UsageRecorder receives one entry per settled attempt.
type UsageRecorder interface {
	RecordOCR(ctx context.Context, entry models.OCRLog) error
}

type Worker struct {
	store           jobstore.Store
	notes           NoteReader
	fetcher         ImageFetcher
	provider        provider.Provider
	usage           UsageRecorder
	providerTimeout time.Duration
	now             func() time.Time
}

type WorkerOption func(*Worker)

func WithProviderTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.providerTimeout = d
		}
	}
}

func WithUsageRecorder(u UsageRecorder) WorkerOption {
	return func(w *Worker) { w.usage = u }
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(store jobstore.Store, notes NoteReader, fetcher ImageFetcher, p provider.Provider, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:           store,
		notes:           notes,
		fetcher:         fetcher,
		provider:        p,
		providerTimeout: DefaultProviderTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle is the dispatcher entry point.
func (w *Worker) Handle(ctx context.Context, t *job.Task) error {
	return w.Run(ctx, t)
}

// Run extracts the task's image and settles its job record. The returned
// error is informational only; the outcome is always written to the store.
func (w *Worker) Run(ctx context.Context, t *job.Task) error {
	start := w.now()
	text, extractErr := w.extract(ctx, t)

	// settle even when the task deadline has already passed
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var settleErr error
	if extractErr != nil {
		settleErr = w.store.Fail(settleCtx, t.NoteID, t.Attempt, failureReason(extractErr), w.now())
	} else {
		res := job.Result{Text: text}
		res.Quote, res.Memo = w.derive(settleCtx, t)
		settleErr = w.store.Complete(settleCtx, t.NoteID, t.Attempt, res, w.now())
	}

	w.recordUsage(settleCtx, t, extractErr, w.now().Sub(start))

	switch {
	case errors.Is(settleErr, jobstore.ErrStaleAttempt):
		slog.Warn("Dropping result of superseded attempt", "note_id", t.NoteID, "attempt", t.Attempt)
	case settleErr != nil:
		slog.Error("Failed to settle job", "note_id", t.NoteID, "attempt", t.Attempt, "error", settleErr)
		return fmt.Errorf("settle job: %w", settleErr)
	case extractErr == nil:
		slog.Info("Extraction completed", "note_id", t.NoteID, "attempt", t.Attempt, "chars", len(text))
	}

	if extractErr != nil {
		return fmt.Errorf("extraction failed: %w", extractErr)
	}
	return nil
}

func (w *Worker) extract(ctx context.Context, t *job.Task) (string, error) {
	img, err := w.fetcher.Fetch(ctx, t.ImageRef)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, w.providerTimeout)
	defer cancel()

	raw, err := w.provider.Extract(pctx, img)
	if err != nil {
		return "", err
	}

	text := Normalize(raw)
	if text == "" {
		return "", provider.ErrEmptyResult
	}
	return text, nil
}

// derive reads the note's structured content. Failures only cost the derived
// fields.
func (w *Worker) derive(ctx context.Context, t *job.Task) (quote, memo *string) {
	if w.notes == nil {
		return nil, nil
	}
	note, err := w.notes.GetNote(ctx, t.NoteID)
	if err != nil {
		slog.Debug("Note content unavailable", "note_id", t.NoteID, "error", err)
		return nil, nil
	}
	return ParseContent(note.Content)
}

func (w *Worker) recordUsage(ctx context.Context, t *job.Task, extractErr error, elapsed time.Duration) {
	if w.usage == nil || t.UserID == "" {
		return
	}

	noteID := t.NoteID
	ms := elapsed.Milliseconds()
	entry := models.OCRLog{
		UserID:               t.UserID,
		NoteID:               &noteID,
		Status:               models.LogStatusSuccess,
		Provider:             w.provider.Name(),
		ProcessingDurationMs: &ms,
	}
	if extractErr != nil {
		msg := extractErr.Error()
		entry.Status = models.LogStatusFailure
		entry.ErrorMessage = &msg
	}

	if err := w.usage.RecordOCR(ctx, entry); err != nil {
		slog.Error("Failed to record OCR usage", "note_id", t.NoteID, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "extraction timed out"
	case errors.Is(err, provider.ErrEmptyResult):
		return "no text recognized in image"
	default:
		return err.Error()
	}
}
