package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLimiterAllowsUpToLimitPerWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiter(2, time.Minute, clock)

	if !l.Allow("guest-a") || !l.Allow("guest-a") {
		t.Fatal("first two requests must pass")
	}
	if l.Allow("guest-a") {
		t.Error("third request in the window must be denied")
	}
	if !l.Allow("guest-b") {
		t.Error("another guest has their own window")
	}

	clock.Advance(time.Minute)
	if !l.Allow("guest-a") {
		t.Error("window reset must admit the guest again")
	}
}

func TestMiddlewareSetsRetryAfterOnDenial(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiter(1, time.Minute, clock)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/table-sessions", nil)
		req.Header.Set(SessionIDHeader, "guest-a")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	clock.Advance(15 * time.Second)
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "45" {
		t.Errorf("Retry-After = %q, want %q (seconds until the window resets)", got, "45")
	}
}
