package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// Pinger is a dependency the readiness probe can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// DeadLetterCounter is implemented by dispatchers that park undeliverable tasks.
type DeadLetterCounter interface {
	DeadLetterCount(ctx context.Context) (int64, error)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Version   string           `json:"version,omitempty"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check represents a single health check result
type Check struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_mb"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"

	queueBacklogThreshold = 500
)

// Health returns basic health status (for load balancer)
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready performs full readiness check including dependencies
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	overallStatus := StatusHealthy

	if h.DB != nil {
		dbCheck := ping(ctx, h.DB)
		checks["database"] = dbCheck
		if dbCheck.Status != StatusHealthy {
			overallStatus = StatusUnhealthy
		}
	}

	// redis is optional unless it carries dispatch or admission
	if h.Redis != nil {
		redisCheck := ping(ctx, h.Redis)
		checks["redis"] = redisCheck
		if redisCheck.Status != StatusHealthy && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	if h.Queue != nil {
		queueCheck := h.checkQueue(ctx)
		checks["queue"] = queueCheck
		if queueCheck.Status != StatusHealthy && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	sysInfo := &SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc / 1024 / 1024,
	}

	code := http.StatusOK
	if overallStatus == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		System:    sysInfo,
	})
}

func ping(ctx context.Context, p Pinger) Check {
	start := time.Now()
	err := p.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		return Check{
			Status:   StatusUnhealthy,
			Message:  err.Error(),
			Duration: duration.String(),
		}
	}
	return Check{
		Status:   StatusHealthy,
		Message:  "connection successful",
		Duration: duration.String(),
	}
}

// checkQueue reports the dispatch backlog and, when available, the number
// of dead-lettered tasks.
func (h *Handlers) checkQueue(ctx context.Context) Check {
	queueLen := h.Queue.Len()

	status := StatusHealthy
	message := "queue operational"
	if queueLen > queueBacklogThreshold {
		status = StatusDegraded
		message = "queue backlog detected"
	}
	message = fmt.Sprintf("%s (pending: %d)", message, queueLen)

	if dl, ok := h.Queue.(DeadLetterCounter); ok {
		n, err := dl.DeadLetterCount(ctx)
		if err != nil {
			return Check{Status: StatusDegraded, Message: "dead letter count: " + err.Error()}
		}
		message = fmt.Sprintf("%s, dead letters: %d", message, n)
	}

	return Check{Status: status, Message: message}
}
