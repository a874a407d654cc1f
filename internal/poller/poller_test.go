package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/fedutinova/readnote/internal/job"
	"github.com/fedutinova/readnote/internal/jobstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

// countingSource wraps a StoreSource and counts calls.
type countingSource struct {
	StoreSource
	mu      sync.Mutex
	gets    int
	expires int
	getErr  error
	// beforeExpire runs ahead of the expire write
	beforeExpire func()
}

func (s *countingSource) Get(ctx context.Context, noteID uuid.UUID) (*job.Job, error) {
	s.mu.Lock()
	s.gets++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.StoreSource.Get(ctx, noteID)
}

func (s *countingSource) Expire(ctx context.Context, noteID uuid.UUID, attempt int64) error {
	s.mu.Lock()
	s.expires++
	hook := s.beforeExpire
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s.StoreSource.Expire(ctx, noteID, attempt)
}

type fixture struct {
	store *jobstore.Memory
	src   *countingSource
	clock *fakeClock
	id    uuid.UUID
}

func newFixture() *fixture {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := jobstore.NewMemory()
	return &fixture{
		store: store,
		src:   &countingSource{StoreSource: StoreSource{Store: store, Now: clock.Now}},
		clock: clock,
		id:    uuid.New(),
	}
}

func (f *fixture) arm(t *testing.T) *job.Job {
	t.Helper()
	j, err := f.store.Arm(context.Background(), f.id, f.clock.Now())
	require.NoError(t, err)
	return j
}

func (f *fixture) poller(cfg Config, opts ...Option) *Poller {
	return New(f.src, f.id, cfg, append([]Option{WithClock(f.clock.Now)}, opts...)...)
}

func TestTick_CompletedFiresCallbackOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	j := f.arm(t)

	var calls int
	var got *job.Job
	p := f.poller(DefaultConfig(), OnComplete(func(j *job.Job) {
		calls++
		got = j
	}))

	u := p.Tick(ctx)
	assert.Equal(t, job.StatusProcessing, u.Status)
	assert.False(t, u.Done)
	assert.Equal(t, 1, u.Attempts)

	require.NoError(t, f.store.Complete(ctx, f.id, j.Attempt, job.Result{Text: "Hello"}, f.clock.Now()))

	u = p.Tick(ctx)
	assert.Equal(t, job.StatusCompleted, u.Status)
	assert.True(t, u.Done)
	require.NotNil(t, u.Job)
	assert.Equal(t, "Hello", u.Job.ExtractedText)

	p.Tick(ctx)
	assert.Equal(t, 1, calls)
	require.NotNil(t, got)
	assert.Equal(t, "Hello", got.ExtractedText)
}

func TestTick_FailedStops(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	j := f.arm(t)
	require.NoError(t, f.store.Fail(ctx, f.id, j.Attempt, "boom", f.clock.Now()))

	p := f.poller(DefaultConfig())
	u := p.Tick(ctx)
	assert.Equal(t, job.StatusFailed, u.Status)
	assert.True(t, u.Done)
	assert.NoError(t, u.Err)
	assert.Equal(t, "boom", u.Job.Error)
}

func TestTick_TimeoutWritesFailedOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.arm(t)
	p := f.poller(DefaultConfig())

	f.clock.Advance(11 * time.Minute)
	u := p.Tick(ctx)
	assert.Equal(t, job.StatusFailed, u.Status)
	assert.True(t, u.Done)
	assert.ErrorIs(t, u.Err, ErrTimedOut)

	stored, err := f.store.Get(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, stored.Status)
	assert.Equal(t, job.TimeoutReason, stored.Error)

	// polling again must not read or write again
	u = p.Tick(ctx)
	assert.Equal(t, job.StatusFailed, u.Status)
	assert.Equal(t, 1, f.src.gets)
	assert.Equal(t, 1, f.src.expires)
}

func TestTick_TimeoutRespectsExactBoundary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.arm(t)
	p := f.poller(DefaultConfig())

	f.clock.Advance(10*time.Minute - time.Second)
	assert.Equal(t, job.StatusProcessing, p.Tick(ctx).Status)

	f.clock.Advance(time.Second)
	u := p.Tick(ctx)
	assert.Equal(t, job.StatusFailed, u.Status)
	assert.ErrorIs(t, u.Err, ErrTimedOut)
}

func TestTick_TimeoutLosesToWorkerCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	j := f.arm(t)

	var completed *job.Job
	p := f.poller(DefaultConfig(), OnComplete(func(j *job.Job) { completed = j }))
	f.src.beforeExpire = func() {
		require.NoError(t, f.store.Complete(ctx, f.id, j.Attempt, job.Result{Text: "late"}, f.clock.Now()))
	}

	f.clock.Advance(15 * time.Minute)
	u := p.Tick(ctx)
	assert.Equal(t, job.StatusCompleted, u.Status)
	assert.True(t, u.Done)
	require.NotNil(t, completed)
	assert.Equal(t, "late", completed.ExtractedText)

	stored, err := f.store.Get(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, stored.Status)
}

func TestTick_MaxAttemptsWithoutWrite(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.arm(t)
	p := f.poller(Config{Interval: 3 * time.Second, MaxAttempts: 20, Timeout: 10 * time.Minute})

	var u Update
	for i := 1; i <= 20; i++ {
		f.clock.Advance(3 * time.Second)
		u = p.Tick(ctx)
		if i < 20 {
			require.False(t, u.Done, "poll %d", i)
			require.Equal(t, job.StatusProcessing, u.Status)
		}
	}
	assert.True(t, u.Done)
	assert.Equal(t, job.StatusFailed, u.Status)
	assert.ErrorIs(t, u.Err, ErrMaxAttempts)
	assert.Equal(t, 20, u.Attempts)
	assert.Equal(t, 0, f.src.expires)

	stored, err := f.store.Get(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, stored.Status)
}

func TestTick_AbsentJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.poller(Config{MaxAttempts: 3})

	assert.Equal(t, Update{}, p.Last())

	u := p.Tick(ctx)
	assert.Equal(t, job.StatusProcessing, u.Status)
	assert.Nil(t, u.Job)
	assert.Equal(t, 1, u.Attempts)

	u = p.Tick(ctx)
	assert.False(t, u.Done)
	assert.Equal(t, 2, u.Attempts)

	u = p.Tick(ctx)
	assert.True(t, u.Done)
	assert.Equal(t, job.StatusFailed, u.Status)
	assert.ErrorIs(t, u.Err, ErrMaxAttempts)
}

func TestTick_AbsentThenAppears(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.poller(DefaultConfig())

	assert.Equal(t, job.StatusProcessing, p.Tick(ctx).Status)
	j := f.arm(t)
	require.NoError(t, f.store.Complete(ctx, f.id, j.Attempt, job.Result{Text: "ok"}, f.clock.Now()))

	u := p.Tick(ctx)
	assert.Equal(t, job.StatusCompleted, u.Status)
}

func TestTick_ReadErrorReportsFailed(t *testing.T) {
	f := newFixture()
	f.arm(t)
	f.src.getErr = errors.New("connection refused")

	u := f.poller(DefaultConfig()).Tick(context.Background())
	assert.True(t, u.Done)
	assert.Equal(t, job.StatusFailed, u.Status)
	assert.EqualError(t, u.Err, "connection refused")
}

func TestTick_CancelledContextDoesNothing(t *testing.T) {
	f := newFixture()
	f.arm(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.clock.Advance(time.Hour)
	u := f.poller(DefaultConfig()).Tick(ctx)
	assert.Equal(t, Update{}, u)
	assert.Equal(t, 0, f.src.gets)
	assert.Equal(t, 0, f.src.expires)

	stored, err := f.store.Get(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, stored.Status)
}

func TestRun_StopsOnCompletion(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j := f.arm(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = f.store.Complete(context.Background(), f.id, j.Attempt, job.Result{Text: "done"}, f.clock.Now())
	}()

	var updates []Update
	u := f.poller(Config{Interval: 10 * time.Millisecond, MaxAttempts: 1000, Timeout: time.Hour}).
		Run(ctx, func(u Update) { updates = append(updates, u) })

	assert.Equal(t, job.StatusCompleted, u.Status)
	require.NotEmpty(t, updates)
	assert.Equal(t, job.StatusProcessing, updates[0].Status)
	assert.Equal(t, job.StatusCompleted, updates[len(updates)-1].Status)
}

func TestRun_CancellationStopsPolling(t *testing.T) {
	f := newFixture()
	f.arm(t)
	ctx, cancel := context.WithCancel(context.Background())

	p := f.poller(Config{Interval: 10 * time.Millisecond, MaxAttempts: 1000, Timeout: time.Hour})
	done := make(chan Update, 1)
	go func() { done <- p.Run(ctx, nil) }()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case u := <-done:
		assert.False(t, u.Done)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	f.src.mu.Lock()
	gets := f.src.gets
	f.src.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	f.src.mu.Lock()
	assert.Equal(t, gets, f.src.gets)
	f.src.mu.Unlock()
}

func TestStoreSource_ExpireIsConditional(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	j := f.arm(t)

	require.NoError(t, f.src.StoreSource.Expire(ctx, f.id, j.Attempt))
	err := f.src.StoreSource.Expire(ctx, f.id, j.Attempt)
	assert.True(t, common.IsConflict(err))

	_, err = StoreSource{Store: f.store}.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrJobNotFound)
}

func TestNew_FillsDefaults(t *testing.T) {
	p := New(StoreSource{Store: jobstore.NewMemory()}, uuid.New(), Config{})
	assert.Equal(t, DefaultConfig(), p.cfg)
}
