package split

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
	"github.com/tabsyteam/tabsy-core/go/internal/editlock"
	"github.com/tabsyteam/tabsy-core/go/internal/events"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
	"github.com/tabsyteam/tabsy-core/go/internal/outbox"
)

type fakeRepo struct {
	calc        *models.SplitCalculation
	savedEvents []outbox.Event
	lockEvents  []outbox.Event
}

func (r *fakeRepo) GetSplitCalculation(_ context.Context, _ uuid.UUID) (*models.SplitCalculation, error) {
	if r.calc == nil {
		return nil, ErrNotFound
	}
	clone := *r.calc
	clone.Percentages = cloneFloatMap(r.calc.Percentages)
	clone.Amounts = cloneFloatMap(r.calc.Amounts)
	clone.SplitAmounts = cloneFloatMap(r.calc.SplitAmounts)
	if r.calc.ItemAssignments != nil {
		clone.ItemAssignments = make(map[uuid.UUID]string, len(r.calc.ItemAssignments))
		for k, v := range r.calc.ItemAssignments {
			clone.ItemAssignments[k] = v
		}
	}
	return &clone, nil
}

func (r *fakeRepo) SaveSplitCalculation(_ context.Context, calc *models.SplitCalculation, evt outbox.Event) error {
	r.calc = calc
	r.savedEvents = append(r.savedEvents, evt)
	return nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, evt outbox.Event) error {
	r.lockEvents = append(r.lockEvents, evt)
	return nil
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type fakeDirectory struct {
	session *models.TableSession
	users   []models.TableSessionUser
	touched []string
}

func (d *fakeDirectory) GetTableSession(_ context.Context, _ uuid.UUID) (*models.TableSession, error) {
	return d.session, nil
}

func (d *fakeDirectory) ListParticipants(_ context.Context, _ uuid.UUID) ([]models.TableSessionUser, error) {
	return d.users, nil
}

func (d *fakeDirectory) TouchActivity(_ context.Context, _ uuid.UUID, guestSessionID string) error {
	d.touched = append(d.touched, guestSessionID)
	return nil
}

type fakeBills struct {
	bill *models.Bill
}

func (b *fakeBills) GetBill(_ context.Context, _ uuid.UUID) (*models.Bill, error) {
	return b.bill, nil
}

type testEnv struct {
	app   *App
	repo  *fakeRepo
	dir   *fakeDirectory
	locks *editlock.Coordinator
	clock *clockwork.FakeClock
	sid   uuid.UUID
}

func newTestEnv(t *testing.T, billTotal float64) *testEnv {
	t.Helper()
	sid := uuid.New()
	clock := clockwork.NewFakeClock()
	locks := editlock.NewCoordinator(editlock.DefaultTTL, clock)
	repo := &fakeRepo{}
	dir := &fakeDirectory{
		session: &models.TableSession{ID: sid, Status: models.TableSessionStatusActive},
		users: []models.TableSessionUser{
			{TableSessionID: sid, GuestSessionID: "guest-a", UserName: "Alice"},
			{TableSessionID: sid, GuestSessionID: "guest-b", UserName: "Bob"},
			{TableSessionID: sid, GuestSessionID: "guest-c", UserName: "Cara"},
		},
	}
	bills := &fakeBills{bill: &models.Bill{TableSessionID: sid, TotalAmount: billTotal}}
	return &testEnv{
		app:   NewApp(repo, dir, bills, locks, clock),
		repo:  repo,
		dir:   dir,
		locks: locks,
		clock: clock,
		sid:   sid,
	}
}

func (e *testEnv) seedPercentageSplit(t *testing.T, percentages map[string]float64) {
	t.Helper()
	_, err := e.app.ChangeSplitType(context.Background(), e.sid, "guest-a", ChangeSplitTypeRequest{
		SplitType:    models.SplitTypeByPercentage,
		Participants: []string{"guest-a", "guest-b", "guest-c"},
		Percentages:  percentages,
	})
	if err != nil {
		t.Fatalf("seed split: %v", err)
	}
}

func TestChangeSplitTypeSeedsDefaultPercentages(t *testing.T) {
	env := newTestEnv(t, 90)

	calc, err := env.app.ChangeSplitType(context.Background(), env.sid, "guest-a", ChangeSplitTypeRequest{
		SplitType:    models.SplitTypeByPercentage,
		Participants: []string{"guest-a", "guest-b", "guest-c"},
	})
	if err != nil {
		t.Fatalf("ChangeSplitType: %v", err)
	}

	if !almostEqual(calc.Percentages["guest-a"], 33.33) || !almostEqual(calc.Percentages["guest-c"], 33.34) {
		t.Errorf("default percentages = %v, want 33.33/33.33/33.34", calc.Percentages)
	}
	if !calc.IsValid {
		t.Error("seeded defaults should cover 100% and be valid")
	}
	if len(env.repo.savedEvents) != 1 {
		t.Fatalf("saved events = %d, want 1", len(env.repo.savedEvents))
	}
	if env.repo.savedEvents[0].EventType != events.TypeSplitCalculationUpdated {
		t.Errorf("event type = %s", env.repo.savedEvents[0].EventType)
	}
}

func TestChangeSplitTypeClearsPreviousTypeValues(t *testing.T) {
	env := newTestEnv(t, 90)
	env.seedPercentageSplit(t, map[string]float64{"guest-a": 40, "guest-b": 35, "guest-c": 25})

	calc, err := env.app.ChangeSplitType(context.Background(), env.sid, "guest-b", ChangeSplitTypeRequest{
		SplitType:    models.SplitTypeByItems,
		Participants: []string{"guest-a", "guest-b", "guest-c"},
	})
	if err != nil {
		t.Fatalf("ChangeSplitType: %v", err)
	}

	if calc.Percentages != nil {
		t.Errorf("percentages survived type change: %v", calc.Percentages)
	}
	if calc.Amounts != nil {
		t.Errorf("amounts survived type change: %v", calc.Amounts)
	}
	if calc.SplitType != models.SplitTypeByItems {
		t.Errorf("split type = %s", calc.SplitType)
	}
	if calc.UpdatedBy != "guest-b" {
		t.Errorf("updated by = %s, want guest-b", calc.UpdatedBy)
	}
}

func TestChangeSplitTypeRejectsUnregisteredParticipant(t *testing.T) {
	env := newTestEnv(t, 90)

	_, err := env.app.ChangeSplitType(context.Background(), env.sid, "guest-a", ChangeSplitTypeRequest{
		SplitType:    models.SplitTypeEqual,
		Participants: []string{"guest-a", "guest-zz"},
	})
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if env.repo.calc != nil {
		t.Error("rejected change must not persist")
	}
}

func TestUpdatePercentageOnlyOwnEntry(t *testing.T) {
	env := newTestEnv(t, 90)
	env.seedPercentageSplit(t, map[string]float64{"guest-a": 40, "guest-b": 35})

	_, err := env.app.UpdateUserPercentage(context.Background(), env.sid, "guest-b", "guest-a", 10)
	if apperr.CodeOf(err) != apperr.CodeForbidden {
		t.Fatalf("err = %v, want FORBIDDEN", err)
	}
	if got := env.repo.calc.Percentages["guest-a"]; !almostEqual(got, 40) {
		t.Errorf("guest-a percentage = %v, want untouched 40", got)
	}
}

func TestUpdatePercentageExceeding100Rejected(t *testing.T) {
	env := newTestEnv(t, 90)
	env.seedPercentageSplit(t, map[string]float64{"guest-a": 40, "guest-b": 35})
	eventsBefore := len(env.repo.savedEvents)

	_, err := env.app.UpdateUserPercentage(context.Background(), env.sid, "guest-c", "guest-c", 30)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}

	// nothing persisted, nothing broadcast, nobody rebalanced
	if got := env.repo.calc.Percentages["guest-a"]; !almostEqual(got, 40) {
		t.Errorf("guest-a percentage = %v, want 40", got)
	}
	if got := env.repo.calc.Percentages["guest-b"]; !almostEqual(got, 35) {
		t.Errorf("guest-b percentage = %v, want 35", got)
	}
	if _, ok := env.repo.calc.Percentages["guest-c"]; ok {
		t.Error("rejected write must not persist guest-c's entry")
	}
	if len(env.repo.savedEvents) != eventsBefore {
		t.Error("rejected write must not broadcast")
	}
}

func TestUpdatePercentageCompletesCoverage(t *testing.T) {
	env := newTestEnv(t, 90)
	env.seedPercentageSplit(t, map[string]float64{"guest-a": 40, "guest-b": 35})

	calc, err := env.app.UpdateUserPercentage(context.Background(), env.sid, "guest-c", "guest-c", 25)
	if err != nil {
		t.Fatalf("UpdateUserPercentage: %v", err)
	}

	if !calc.IsValid {
		t.Error("full coverage should be valid")
	}
	want := map[string]float64{"guest-a": 36.00, "guest-b": 31.50, "guest-c": 22.50}
	for guest, amount := range want {
		if !almostEqual(calc.SplitAmounts[guest], amount) {
			t.Errorf("split for %s = %v, want %v", guest, calc.SplitAmounts[guest], amount)
		}
	}
}

func TestUpdateAmountExceedingBillRejected(t *testing.T) {
	env := newTestEnv(t, 90)
	_, err := env.app.ChangeSplitType(context.Background(), env.sid, "guest-a", ChangeSplitTypeRequest{
		SplitType:    models.SplitTypeByAmount,
		Participants: []string{"guest-a", "guest-b"},
		Amounts:      map[string]float64{"guest-a": 60},
	})
	if err != nil {
		t.Fatalf("ChangeSplitType: %v", err)
	}

	_, err = env.app.UpdateUserAmount(context.Background(), env.sid, "guest-b", "guest-b", 40)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}

	calc, err := env.app.UpdateUserAmount(context.Background(), env.sid, "guest-b", "guest-b", 30)
	if err != nil {
		t.Fatalf("UpdateUserAmount: %v", err)
	}
	if !calc.IsValid {
		t.Error("fully covered amounts should be valid")
	}
}

func TestItemAssignmentLastWriteWins(t *testing.T) {
	env := newTestEnv(t, 33)
	pizza := uuid.New()
	env.app.bills.(*fakeBills).bill.Items = []models.BillItem{
		{ID: pizza, Name: "Pizza", Quantity: 2, Price: 12.50},
	}

	_, err := env.app.ChangeSplitType(context.Background(), env.sid, "guest-a", ChangeSplitTypeRequest{
		SplitType:    models.SplitTypeByItems,
		Participants: []string{"guest-a", "guest-b"},
	})
	if err != nil {
		t.Fatalf("ChangeSplitType: %v", err)
	}

	if _, err := env.app.UpdateItemAssignment(context.Background(), env.sid, "guest-a", pizza, "guest-a"); err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	calc, err := env.app.UpdateItemAssignment(context.Background(), env.sid, "guest-b", pizza, "guest-b")
	if err != nil {
		t.Fatalf("reassignment: %v", err)
	}

	if calc.ItemAssignments[pizza] != "guest-b" {
		t.Errorf("assignee = %s, want guest-b (last write wins)", calc.ItemAssignments[pizza])
	}
	if calc.UpdatedBy != "guest-b" {
		t.Errorf("updated by = %s, want guest-b", calc.UpdatedBy)
	}
}

func TestItemAssignmentBatchRejectsBadEntryWithoutCommitting(t *testing.T) {
	env := newTestEnv(t, 90)
	items := make([]models.BillItem, 8)
	for i := range items {
		items[i] = models.BillItem{ID: uuid.New(), Name: "Dish", Quantity: 1, Price: 11.25}
	}
	env.app.bills.(*fakeBills).bill.Items = items

	_, err := env.app.ChangeSplitType(context.Background(), env.sid, "guest-a", ChangeSplitTypeRequest{
		SplitType:    models.SplitTypeByItems,
		Participants: []string{"guest-a", "guest-b"},
	})
	if err != nil {
		t.Fatalf("ChangeSplitType: %v", err)
	}
	eventsBefore := len(env.repo.savedEvents)

	// all entries valid except one unknown item id
	batch := make(map[uuid.UUID]string, len(items)+1)
	for _, item := range items {
		batch[item.ID] = "guest-a"
	}
	batch[uuid.New()] = "guest-b"

	_, err = env.app.UpdateItemAssignments(context.Background(), env.sid, "guest-a", batch)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}

	// the rejection covers the whole batch: no assignments committed, no
	// broadcast for any of them
	if got := len(env.repo.calc.ItemAssignments); got != 0 {
		t.Errorf("persisted assignments = %d, want 0 after rejected batch", got)
	}
	if len(env.repo.savedEvents) != eventsBefore {
		t.Errorf("saved events = %d, want %d (rejected batch must not broadcast)", len(env.repo.savedEvents), eventsBefore)
	}

	// the same batch without the bad entry commits once
	delete(batch, findUnknownKey(batch, items))
	calc, err := env.app.UpdateItemAssignments(context.Background(), env.sid, "guest-a", batch)
	if err != nil {
		t.Fatalf("valid batch: %v", err)
	}
	if len(calc.ItemAssignments) != len(items) {
		t.Errorf("assignments = %d, want %d", len(calc.ItemAssignments), len(items))
	}
	if len(env.repo.savedEvents) != eventsBefore+1 {
		t.Errorf("saved events = %d, want one broadcast for the whole batch", len(env.repo.savedEvents))
	}
}

func findUnknownKey(batch map[uuid.UUID]string, items []models.BillItem) uuid.UUID {
	known := make(map[uuid.UUID]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}
	for id := range batch {
		if !known[id] {
			return id
		}
	}
	return uuid.Nil
}

func TestWritesBumpSessionActivity(t *testing.T) {
	env := newTestEnv(t, 90)
	env.seedPercentageSplit(t, map[string]float64{"guest-a": 40, "guest-b": 35})

	if _, err := env.app.UpdateUserPercentage(context.Background(), env.sid, "guest-c", "guest-c", 25); err != nil {
		t.Fatalf("UpdateUserPercentage: %v", err)
	}

	// seed + update, each recording the acting guest
	if len(env.dir.touched) != 2 {
		t.Fatalf("activity bumps = %d, want 2", len(env.dir.touched))
	}
	if env.dir.touched[1] != "guest-c" {
		t.Errorf("last bump = %s, want guest-c", env.dir.touched[1])
	}

	// rejected writes never commit, so they never count as activity
	before := len(env.dir.touched)
	if _, err := env.app.UpdateUserPercentage(context.Background(), env.sid, "guest-c", "guest-c", 60); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if len(env.dir.touched) != before {
		t.Errorf("rejected write bumped activity")
	}
}

func TestLockBlocksOtherGuestsWrites(t *testing.T) {
	env := newTestEnv(t, 90)
	env.seedPercentageSplit(t, map[string]float64{"guest-a": 40, "guest-b": 35, "guest-c": 25})

	if err := env.app.AcquireEditLock(context.Background(), env.sid, "guest-a"); err != nil {
		t.Fatalf("AcquireEditLock: %v", err)
	}

	_, err := env.app.UpdateUserPercentage(context.Background(), env.sid, "guest-b", "guest-b", 30)
	if apperr.CodeOf(err) != apperr.CodeForbidden {
		t.Fatalf("locked write err = %v, want FORBIDDEN", err)
	}

	// the holder can still write
	if _, err := env.app.UpdateUserPercentage(context.Background(), env.sid, "guest-a", "guest-a", 40); err != nil {
		t.Fatalf("holder write: %v", err)
	}

	// lock expiry frees everyone else
	env.clock.Advance(editlock.DefaultTTL + 1)
	if _, err := env.app.UpdateUserPercentage(context.Background(), env.sid, "guest-b", "guest-b", 35); err != nil {
		t.Fatalf("write after expiry: %v", err)
	}
}

func TestLockLifecycleBroadcasts(t *testing.T) {
	env := newTestEnv(t, 90)

	if err := env.app.AcquireEditLock(context.Background(), env.sid, "guest-a"); err != nil {
		t.Fatalf("AcquireEditLock: %v", err)
	}
	if err := env.app.AcquireEditLock(context.Background(), env.sid, "guest-b"); apperr.CodeOf(err) != apperr.CodeForbidden {
		t.Fatalf("competing acquire err = %v, want FORBIDDEN", err)
	}
	if err := env.app.ReleaseEditLock(context.Background(), env.sid, "guest-a"); err != nil {
		t.Fatalf("ReleaseEditLock: %v", err)
	}

	if len(env.repo.lockEvents) != 2 {
		t.Fatalf("lock events = %d, want 2", len(env.repo.lockEvents))
	}
	if env.repo.lockEvents[0].EventType != events.TypeSplitBeingEdited {
		t.Errorf("first event = %s, want %s", env.repo.lockEvents[0].EventType, events.TypeSplitBeingEdited)
	}
	if env.repo.lockEvents[1].EventType != events.TypeSplitEditingDone {
		t.Errorf("second event = %s, want %s", env.repo.lockEvents[1].EventType, events.TypeSplitEditingDone)
	}
}

func TestLoadMissingCalculationIsNotFound(t *testing.T) {
	env := newTestEnv(t, 90)

	_, err := env.app.LoadSplitCalculation(context.Background(), env.sid)
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}
