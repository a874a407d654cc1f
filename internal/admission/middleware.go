package admission

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

type KeyFunc func(r *http.Request) (string, error)

// KeyByIP identifies anonymous callers.
var KeyByIP KeyFunc = httprate.KeyByIP

// RetryAfterSeconds rounds up so a client never retries inside the window.
func RetryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Middleware rejects requests over the gate's limit with 429. When the gate
// itself fails the request is let through: the gate only mitigates abuse.
func Middleware(g Gate, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k, err := key(r)
			if err != nil {
				slog.Warn("admission key failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			d, err := g.Allow(r.Context(), k)
			if err != nil {
				slog.Error("admission check failed, allowing request", "key", k, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				retry := RetryAfterSeconds(d.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":       "rate limit exceeded",
					"retry_after": retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
