package ocr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/models"
	"github.com/fedutinova/readnote/internal/provider"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeNotes struct {
	mu    sync.Mutex
	notes map[uuid.UUID]models.Note
	err   error
}

func newFakeNotes(notes ...models.Note) *fakeNotes {
	f := &fakeNotes{notes: make(map[uuid.UUID]models.Note)}
	for _, n := range notes {
		f.notes[n.ID] = n
	}
	return f
}

func (f *fakeNotes) GetNote(ctx context.Context, id uuid.UUID) (*models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n, ok := f.notes[id]
	if !ok {
		return nil, common.ErrNoteNotFound
	}
	return &n, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []*job.Task
	err   error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, t *job.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, t)
	return nil
}

func (d *fakeDispatcher) StartConsumers(context.Context, int, job.Handler) {}
func (d *fakeDispatcher) Len() int                                         { return len(d.tasks) }
func (d *fakeDispatcher) Close() error                                     { return nil }

func (d *fakeDispatcher) dispatched() []*job.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*job.Task(nil), d.tasks...)
}

type fakeProvider struct {
	mu      sync.Mutex
	extract func(ctx context.Context, img provider.Image) (string, error)
	calls   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Extract(ctx context.Context, img provider.Image) (string, error) {
	p.mu.Lock()
	p.calls++
	fn := p.extract
	p.mu.Unlock()
	return fn(ctx, img)
}

func (p *fakeProvider) set(fn func(ctx context.Context, img provider.Image) (string, error)) {
	p.mu.Lock()
	p.extract = fn
	p.mu.Unlock()
}

func returns(text string) func(context.Context, provider.Image) (string, error) {
	return func(context.Context, provider.Image) (string, error) { return text, nil }
}

func blocksUntilDone(ctx context.Context, _ provider.Image) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type fakeFetcher struct {
	err error
}

func (f fakeFetcher) Fetch(ctx context.Context, ref string) (provider.Image, error) {
	if f.err != nil {
		return provider.Image{}, f.err
	}
	return provider.Image{Data: []byte("img:" + ref), MIMEType: "image/png"}, nil
}

type fakeUsage struct {
	mu      sync.Mutex
	entries []models.OCRLog
	err     error
}

func (u *fakeUsage) RecordOCR(ctx context.Context, entry models.OCRLog) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, entry)
	return u.err
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }
