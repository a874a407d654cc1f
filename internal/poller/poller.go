// Package poller watches a job record from the caller's side. It gives up
// after a bounded number of polls or once the job has been processing for
// longer than the wall-clock timeout, in which case it fails the job itself.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/google/uuid"
)

var (
	ErrTimedOut    = errors.New("job timed out")
	ErrMaxAttempts = errors.New("poll attempts exhausted")
)

// Source reads a job and applies the timeout write. Get returns
// common.ErrJobNotFound for a job that does not exist yet; Expire must only
// fail the job while it is processing under the given attempt.
type Source interface {
	Get(ctx context.Context, noteID uuid.UUID) (*job.Job, error)
	Expire(ctx context.Context, noteID uuid.UUID, attempt int64) error
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    3 * time.Second,
		MaxAttempts: 20,
		Timeout:     10 * time.Minute,
	}
}

// Update is what one poll observed. Status is empty until the first poll.
type Update struct {
	Status   job.Status
	Job      *job.Job
	Attempts int
	Err      error
	Done     bool
}

type Poller struct {
	src        Source
	noteID     uuid.UUID
	cfg        Config
	now        func() time.Time
	onComplete func(*job.Job)

	mu       sync.Mutex
	polled   bool
	attempts int
	last     Update
}

type Option func(*Poller)

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// OnComplete registers a callback fired once when the job completes.
func OnComplete(fn func(*job.Job)) Option {
	return func(p *Poller) { p.onComplete = fn }
}

func New(src Source, noteID uuid.UUID, cfg Config, opts ...Option) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	p := &Poller{
		src:    src,
		noteID: noteID,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Last returns the most recent update without polling.
func (p *Poller) Last() Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Tick performs a single poll. After a terminal update it keeps returning
// that update without touching the source.
func (p *Poller) Tick(ctx context.Context) Update {
	p.mu.Lock()
	wasDone := p.last.Done
	u := p.tick(ctx)
	p.mu.Unlock()

	if !wasDone && u.Done && u.Status == job.StatusCompleted && p.onComplete != nil {
		p.onComplete(u.Job)
	}
	return u
}

func (p *Poller) tick(ctx context.Context) Update {
	if p.last.Done || ctx.Err() != nil {
		return p.last
	}

	j, err := p.src.Get(ctx, p.noteID)
	if ctx.Err() != nil {
		return p.last
	}

	first := !p.polled
	p.polled = true

	switch {
	case errors.Is(err, common.ErrJobNotFound):
		// the submit write may not have landed yet
		if first {
			p.last.Status = job.StatusProcessing
		}
		return p.count(nil)

	case err != nil:
		slog.Error("Job poll failed", "note_id", p.noteID, "error", err)
		return p.finish(job.StatusFailed, nil, err)

	case j.Status == job.StatusCompleted:
		return p.finish(job.StatusCompleted, j, nil)

	case j.Status == job.StatusFailed:
		return p.finish(job.StatusFailed, j, nil)
	}

	if p.now().Sub(j.CreatedAt) >= p.cfg.Timeout {
		return p.expire(ctx, j)
	}
	p.last.Status = job.StatusProcessing
	return p.count(j)
}

func (p *Poller) count(j *job.Job) Update {
	p.attempts++
	p.last.Attempts = p.attempts
	if j != nil {
		p.last.Job = j
	}
	if p.attempts >= p.cfg.MaxAttempts {
		slog.Warn("Giving up on job after max poll attempts", "note_id", p.noteID, "attempts", p.attempts)
		return p.finish(job.StatusFailed, p.last.Job, ErrMaxAttempts)
	}
	return p.last
}

// expire fails a job that outlived the timeout. If the write loses to a
// terminal write of the worker, the worker's outcome is reported instead.
func (p *Poller) expire(ctx context.Context, j *job.Job) Update {
	err := p.src.Expire(ctx, p.noteID, j.Attempt)
	if err == nil {
		slog.Warn("Job timed out, marked failed", "note_id", p.noteID, "attempt", j.Attempt,
			"elapsed", p.now().Sub(j.CreatedAt))
		failed := *j
		failed.Status = job.StatusFailed
		failed.Error = job.TimeoutReason
		return p.finish(job.StatusFailed, &failed, ErrTimedOut)
	}

	slog.Warn("Timeout write rejected", "note_id", p.noteID, "attempt", j.Attempt, "error", err)
	if common.IsConflict(err) {
		if cur, gerr := p.src.Get(ctx, p.noteID); gerr == nil && cur.Status.Terminal() {
			return p.finish(cur.Status, cur, nil)
		}
	}
	return p.finish(job.StatusFailed, j, ErrTimedOut)
}

func (p *Poller) finish(status job.Status, j *job.Job, err error) Update {
	p.last = Update{
		Status:   status,
		Job:      j,
		Attempts: p.attempts,
		Err:      err,
		Done:     true,
	}
	return p.last
}

// Run polls immediately and then every Interval until the job is terminal
// or ctx is cancelled. onUpdate may be nil.
// Nothing is polled or reported once ctx is done.
func (p *Poller) Run(ctx context.Context, onUpdate func(Update)) Update {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		u := p.Tick(ctx)
		if ctx.Err() != nil {
			return u
		}
		if onUpdate != nil {
			onUpdate(u)
		}
		if u.Done {
			return u
		}

		select {
		case <-ctx.Done():
			return p.Last()
		case <-ticker.C:
		}
	}
}
