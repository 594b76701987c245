package httpx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
)

// Limiter is a fixed-window per-client rate limiter. Windows are keyed
// on the guest session identity so one noisy device cannot starve the
// rest of the table.
type Limiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	limit   int
	window  time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

// NewLimiter allows limit requests per window per key
func NewLimiter(limit int, window time.Duration, clock clockwork.Clock) *Limiter {
	return &Limiter{
		clock:   clock,
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether the key may make another request now
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.allow(key)
	return ok
}

// allow additionally reports how long a denied key must wait for the
// window to reset
func (l *Limiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &bucket{windowStart: now, count: 1}
		return true, 0
	}
	if b.count >= l.limit {
		return false, l.window - now.Sub(b.windowStart)
	}
	b.count++
	return true, 0
}

// Middleware rejects over-limit requests with RATE_LIMITED and a
// Retry-After hint. Requests without a session header are keyed on the
// remote address.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(SessionIDHeader)
		if key == "" {
			key = r.RemoteAddr
		}
		if ok, retryAfter := l.allow(key); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
			WriteError(w, apperr.RateLimited("too many requests, slow down"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds up so the hint never tells clients to retry
// inside the same window
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
