package admission

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
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

func TestMemory_LimitThenReset(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewMemory(3, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := g.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 3-i, d.Remaining)
	}

	clock.Advance(20 * time.Second)
	d, err := g.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)

	// other callers have their own window
	d, _ = g.Allow(ctx, "u2")
	assert.True(t, d.Allowed)

	clock.Advance(40 * time.Second)
	d, err = g.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestMemory_RejectionsDoNotExtendWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	g := NewMemory(1, 10*time.Second, WithClock(clock.Now))
	ctx := context.Background()

	d, _ := g.Allow(ctx, "k")
	require.True(t, d.Allowed)
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		d, _ = g.Allow(ctx, "k")
		assert.False(t, d.Allowed)
	}
	clock.Advance(5 * time.Second)
	d, _ = g.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestMemory_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	g := NewMemory(5, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	g.Allow(ctx, "a")
	clock.Advance(30 * time.Second)
	g.Allow(ctx, "b")
	require.Equal(t, 2, g.Len())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, g.Sweep())
	assert.Equal(t, 1, g.Len())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, g.Sweep())
	assert.Equal(t, 0, g.Len())
}

func TestMemory_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	g := NewMemory(50, time.Hour)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := g.Allow(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(300*time.Millisecond))
	assert.Equal(t, 2, RetryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 60, RetryAfterSeconds(time.Minute))
}

func TestMiddleware_RejectsOverLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	g := NewMemory(1, 30*time.Second, WithClock(clock.Now))
	h := Middleware(g, func(r *http.Request) (string, error) { return r.Header.Get("X-User"), nil })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }),
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/ocr", nil)
	req.Header.Set("X-User", "u1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	clock.Advance(10 * time.Second)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","retry_after":20}`, rec.Body.String())
}

type brokenGate struct{}

func (brokenGate) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestMiddleware_FailsOpen(t *testing.T) {
	h := Middleware(brokenGate{}, KeyByIP)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }),
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ocr", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRedis_FixedWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Skipf("Skipping Redis gate test: invalid Redis URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping Redis gate test: Redis not available: %v", err)
	}

	prefix := "test:admission:" + uuid.New().String()[:8] + ":"
	g := NewRedis(client, prefix, 2, 500*time.Millisecond)
	defer client.Del(context.Background(), prefix+"u1")

	for i := 0; i < 2; i++ {
		d, err := g.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := g.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, 500*time.Millisecond)

	time.Sleep(600 * time.Millisecond)
	d, err = g.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
