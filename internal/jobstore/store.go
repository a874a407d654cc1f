package jobstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/google/uuid"
)

// ErrStaleAttempt is returned by terminal writes that target an attempt which
// is no longer the current processing attempt of the record.
var ErrStaleAttempt = fmt.Errorf("stale attempt: %w", common.ErrConflict)

// Store keeps one job record per note.
//
// Arm creates or overwrites the record in processing state with a fresh
// attempt. Complete and Fail only succeed while the record is processing
// under the given attempt; otherwise they return ErrStaleAttempt and leave
// the record untouched. Get returns common.ErrJobNotFound when the note was
// never submitted.
type Store interface {
	Arm(ctx context.Context, noteID uuid.UUID, now time.Time) (*job.Job, error)
	Get(ctx context.Context, noteID uuid.UUID) (*job.Job, error)
	Complete(ctx context.Context, noteID uuid.UUID, attempt int64, res job.Result, now time.Time) error
	Fail(ctx context.Context, noteID uuid.UUID, attempt int64, reason string, now time.Time) error
}

func validateResult(res job.Result) error {
	if strings.TrimSpace(res.Text) == "" {
		return common.ValidationError{Field: "extracted_text", Message: "must not be empty"}
	}
	return nil
}

// settleError decides why a conditional write matched nothing.
func settleError(ctx context.Context, s Store, noteID uuid.UUID) error {
	if _, err := s.Get(ctx, noteID); err != nil {
		return err
	}
	return ErrStaleAttempt
}
