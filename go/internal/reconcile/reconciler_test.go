package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tabsyteam/tabsy-core/go/internal/events"
	"github.com/tabsyteam/tabsy-core/go/internal/gateway"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
)

type fakeFetcher struct {
	calls int
	calc  *models.SplitCalculation
}

func (f *fakeFetcher) GetSplitCalculation(_ context.Context, _ uuid.UUID) (*models.SplitCalculation, error) {
	f.calls++
	return f.calc, nil
}

func calculationEvent(t *testing.T, payload events.SplitCalculationUpdatedPayload) *gateway.SessionEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return &gateway.SessionEvent{
		ID:        uuid.NewString(),
		Type:      gateway.EventTypeSplitCalculationUpdated,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func editingEvent(t *testing.T, eventType gateway.EventType, editingBy, editingUser string) *gateway.SessionEvent {
	t.Helper()
	data, err := json.Marshal(events.SplitEditingPayload{
		EditingBy:   editingBy,
		EditingUser: editingUser,
		Timestamp:   time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &gateway.SessionEvent{ID: uuid.NewString(), Type: eventType, Data: data}
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeFetcher) {
	t.Helper()
	fetcher := &fakeFetcher{calc: &models.SplitCalculation{
		SplitType:    models.SplitTypeByPercentage,
		Participants: []string{"me", "other"},
		Percentages:  map[string]float64{"me": 50, "other": 50},
		SplitAmounts: map[string]float64{"me": 45, "other": 45},
		TotalAmount:  90,
	}}
	r := NewReconciler("me", uuid.New(), fetcher)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	fetcher.calls = 0
	return r, fetcher
}

func TestTypeChangeOverwritesAndDiscardsBuffers(t *testing.T) {
	r, fetcher := newTestReconciler(t)

	// A pending local percentage edit must not survive the type change
	r.ApplyOptimistic("percentage", func(c *models.SplitCalculation) {
		c.Percentages = map[string]float64{"me": 70, "other": 50}
	})

	newState := &models.SplitCalculation{
		SplitType:    models.SplitTypeEqual,
		Participants: []string{"me", "other"},
		SplitAmounts: map[string]float64{"me": 45, "other": 45},
		TotalAmount:  90,
		UpdatedBy:    "other",
	}
	evt := calculationEvent(t, events.SplitCalculationUpdatedPayload{
		SplitCalculation: newState,
		UpdatedBy:        "other",
		IsTypeChange:     true,
	})

	if err := r.HandleEvent(context.Background(), evt); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	got := r.Snapshot()
	if got.SplitType != models.SplitTypeEqual {
		t.Errorf("split type = %s, want EQUAL", got.SplitType)
	}
	if got.Percentages != nil {
		t.Errorf("stale percentages survived: %v", got.Percentages)
	}
	if fetcher.calls != 0 {
		t.Errorf("type change must overwrite without a refetch, got %d fetches", fetcher.calls)
	}

	// The discarded buffer must not roll back over the new state
	r.RollbackLocalEdit("percentage")
	if r.Snapshot().SplitType != models.SplitTypeEqual {
		t.Error("rollback of a discarded buffer must be a no-op")
	}
}

func TestOwnEchoConfirmsWithoutRefetch(t *testing.T) {
	r, fetcher := newTestReconciler(t)

	r.ApplyOptimistic("percentage", func(c *models.SplitCalculation) {
		c.Percentages["me"] = 60
	})

	confirmed := &models.SplitCalculation{
		SplitType:    models.SplitTypeByPercentage,
		Participants: []string{"me", "other"},
		Percentages:  map[string]float64{"me": 60, "other": 50},
		SplitAmounts: map[string]float64{"me": 54, "other": 45},
		TotalAmount:  90,
		UpdatedBy:    "me",
	}
	evt := calculationEvent(t, events.SplitCalculationUpdatedPayload{
		SplitCalculation: confirmed,
		UpdatedBy:        "me",
		IsValueUpdate:    true,
		UpdatedField:     "percentage",
	})

	if err := r.HandleEvent(context.Background(), evt); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if fetcher.calls != 0 {
		t.Errorf("own echo must not refetch, got %d fetches", fetcher.calls)
	}
	if got := r.Snapshot().SplitAmounts["me"]; got != 54 {
		t.Errorf("server-computed amount = %v, want 54", got)
	}
}

func TestForeignUpdateTriggersRefresh(t *testing.T) {
	r, fetcher := newTestReconciler(t)

	fetcher.calc = &models.SplitCalculation{
		SplitType:    models.SplitTypeByPercentage,
		Participants: []string{"me", "other"},
		Percentages:  map[string]float64{"me": 50, "other": 40},
		SplitAmounts: map[string]float64{"me": 45, "other": 36},
		TotalAmount:  90,
		UpdatedBy:    "other",
	}

	evt := calculationEvent(t, events.SplitCalculationUpdatedPayload{
		SplitCalculation: fetcher.calc,
		UpdatedBy:        "other",
		IsValueUpdate:    true,
		UpdatedField:     "percentage",
	})

	if err := r.HandleEvent(context.Background(), evt); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("foreign update must trigger exactly one refresh, got %d", fetcher.calls)
	}
	if got := r.Snapshot().Percentages["other"]; got != 40 {
		t.Errorf("other's percentage = %v, want 40", got)
	}
}

func TestFailedEditRollsBack(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.ApplyOptimistic("percentage", func(c *models.SplitCalculation) {
		c.Percentages = map[string]float64{"me": 80, "other": 50}
	})
	if got := r.Snapshot().Percentages["me"]; got != 80 {
		t.Fatalf("optimistic value = %v, want 80", got)
	}

	r.RollbackLocalEdit("percentage")
	if got := r.Snapshot().Percentages["me"]; got != 50 {
		t.Errorf("rolled-back value = %v, want last server value 50", got)
	}
}

func TestEditingHintLifecycle(t *testing.T) {
	r, _ := newTestReconciler(t)

	if err := r.HandleEvent(context.Background(), editingEvent(t, gateway.EventTypeSplitBeingEdited, "other", "Alice")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	guest, name, ok := r.EditingBy()
	if !ok || guest != "other" || name != "Alice" {
		t.Errorf("editing hint = %s/%s/%v", guest, name, ok)
	}

	if err := r.HandleEvent(context.Background(), editingEvent(t, gateway.EventTypeSplitEditingDone, "other", "Alice")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if _, _, ok := r.EditingBy(); ok {
		t.Error("editing hint must clear on editing_done")
	}
}
