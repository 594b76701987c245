package tabsy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
)

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func TestConcurrentReadsCollapseToOneFetch(t *testing.T) {
	var fetches int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		<-release
		writeEnvelope(w, http.StatusOK, &models.SplitCalculation{
			SplitType:    models.SplitTypeEqual,
			Participants: []string{"a", "b"},
			TotalAmount:  90,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	tableSessionID := uuid.New()

	const callers = 8
	results := make([]*models.SplitCalculation, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.GetSplitCalculation(context.Background(), tableSessionID)
		}(i)
	}

	// Let all callers pile onto the in-flight fetch before releasing it
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Errorf("underlying fetches = %d, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].TotalAmount != 90 {
			t.Errorf("caller %d got %+v", i, results[i])
		}
	}
}

func TestErrorCodeDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]string{"code": "VALIDATION_ERROR", "message": "total percentage 120.0% exceeds 100%"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	pct := 50.0
	_, err := client.UpdateUserPercentage(context.Background(), uuid.New(), "guest-a", pct)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

func TestServerErrorsRetryThenSucceed(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeEnvelope(w, http.StatusOK, &models.Bill{TotalAmount: 42})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	bill, err := client.GetBill(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if bill.TotalAmount != 42 {
		t.Errorf("bill = %+v", bill)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3 (two failures, one success)", got)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]string{"code": "FORBIDDEN", "message": "someone else is editing"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.AcquireEditLock(context.Background(), uuid.New())
	if apperr.CodeOf(err) != apperr.CodeForbidden {
		t.Fatalf("err = %v, want FORBIDDEN", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestNonEnvelopeClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("<html>not found</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.GetBill(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected an error for a non-envelope 4xx body")
	}
	if apperr.IsRetryable(err) {
		t.Errorf("decode failure on a 4xx must not be retryable: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on undecodable 4xx)", got)
	}
}

func TestGuestSessionHeaderIsSent(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(SessionIDHeader)
		writeEnvelope(w, http.StatusOK, &models.Bill{})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.SetGuestSession("guest-42")
	if _, err := client.GetBill(context.Background(), uuid.New()); err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if gotHeader != "guest-42" {
		t.Errorf("%s header = %q, want guest-42", SessionIDHeader, gotHeader)
	}
}
