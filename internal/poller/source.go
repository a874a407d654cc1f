package poller

import (
	"context"
	"time"

	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/jobstore"
	"github.com/google/uuid"
)

// StoreSource polls a job store directly, for callers running next to it.
type StoreSource struct {
	Store jobstore.Store
	Now   func() time.Time
}

func (s StoreSource) Get(ctx context.Context, noteID uuid.UUID) (*job.Job, error) {
	return s.Store.Get(ctx, noteID)
}

func (s StoreSource) Expire(ctx context.Context, noteID uuid.UUID, attempt int64) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Store.Fail(ctx, noteID, attempt, job.TimeoutReason, now())
}
