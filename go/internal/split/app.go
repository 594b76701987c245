package split

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
	"github.com/tabsyteam/tabsy-core/go/internal/editlock"
	"github.com/tabsyteam/tabsy-core/go/internal/events"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
	"github.com/tabsyteam/tabsy-core/go/internal/outbox"
)

// ErrNotFound is returned when a session has no split calculation yet
var ErrNotFound = errors.New("split calculation not found")

// SplitRepository defines what the split app layer needs from storage.
// SaveSplitCalculation persists the new state and the outbox event in one
// transaction so a rejected mutation can never be broadcast.
type SplitRepository interface {
	GetSplitCalculation(ctx context.Context, tableSessionID uuid.UUID) (*models.SplitCalculation, error)
	SaveSplitCalculation(ctx context.Context, calc *models.SplitCalculation, evt outbox.Event) error
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

// SessionDirectory defines what the split app layer needs from the
// table session registry
type SessionDirectory interface {
	GetTableSession(ctx context.Context, id uuid.UUID) (*models.TableSession, error)
	ListParticipants(ctx context.Context, id uuid.UUID) ([]models.TableSessionUser, error)
	TouchActivity(ctx context.Context, tableSessionID uuid.UUID, guestSessionID string) error
}

// BillProvider exposes the aggregated bill view, consumed read-only
type BillProvider interface {
	GetBill(ctx context.Context, tableSessionID uuid.UUID) (*models.Bill, error)
}

// App owns the authoritative split state machine for table sessions.
// States are the split types plus an implicit unset state; transitions
// happen only through ChangeSplitType.
type App struct {
	repo     SplitRepository
	sessions SessionDirectory
	bills    BillProvider
	locks    *editlock.Coordinator
	clock    clockwork.Clock
}

// NewApp creates a new split App
func NewApp(repo SplitRepository, sessions SessionDirectory, bills BillProvider, locks *editlock.Coordinator, clock clockwork.Clock) *App {
	return &App{
		repo:     repo,
		sessions: sessions,
		bills:    bills,
		locks:    locks,
		clock:    clock,
	}
}

// LoadSplitCalculation returns the current split state for a session
func (a *App) LoadSplitCalculation(ctx context.Context, tableSessionID uuid.UUID) (*models.SplitCalculation, error) {
	calc, err := a.repo.GetSplitCalculation(ctx, tableSessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("no split calculation exists for this session")
		}
		return nil, fmt.Errorf("failed to load split calculation: %w", err)
	}
	a.applyLockState(calc)
	return calc, nil
}

// GetBill returns the aggregated bill view for a session
func (a *App) GetBill(ctx context.Context, tableSessionID uuid.UUID) (*models.Bill, error) {
	bill, err := a.bills.GetBill(ctx, tableSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill: %w", err)
	}
	return bill, nil
}

// ChangeSplitType fully replaces the split configuration. Maps belonging
// to other types are cleared so receivers never see stale values;
// BY_PERCENTAGE is seeded with server defaults unless the request carries
// initial values.
func (a *App) ChangeSplitType(ctx context.Context, tableSessionID uuid.UUID, callerGuestID string, req ChangeSplitTypeRequest) (*models.SplitCalculation, error) {
	if err := validateSplitType(req.SplitType); err != nil {
		return nil, err
	}
	if len(req.Participants) == 0 {
		return nil, apperr.Validation("participants are required")
	}

	if blocker, blocked := a.locks.BlockedBy(tableSessionID, callerGuestID); blocked {
		log.Debug().
			Str("table_session_id", tableSessionID.String()).
			Str("blocked_by", blocker).
			Msg("split type change rejected, session locked")
		return nil, apperr.Forbidden("someone else is editing the split, try again shortly")
	}

	registered, err := a.registeredGuests(ctx, tableSessionID)
	if err != nil {
		return nil, err
	}
	if !registered[callerGuestID] {
		return nil, apperr.Forbidden("you are not a participant of this session")
	}
	for _, guest := range req.Participants {
		if !registered[guest] {
			return nil, apperr.Validation("participant %s is not part of this session", guest)
		}
	}

	bill, err := a.bills.GetBill(ctx, tableSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill: %w", err)
	}

	calc := &models.SplitCalculation{
		TableSessionID: tableSessionID,
		SplitType:      req.SplitType,
		Participants:   append([]string(nil), req.Participants...),
		TotalAmount:    Round2(bill.RemainingAmount()),
		UpdatedBy:      callerGuestID,
		UpdatedAt:      a.clock.Now(),
	}

	if err := a.seedInitialValues(calc, req, bill); err != nil {
		return nil, err
	}

	Recalculate(calc, bill.Items)

	evt, err := a.calculationUpdatedEvent(calc, true, false, "")
	if err != nil {
		return nil, err
	}
	if err := a.repo.SaveSplitCalculation(ctx, calc, evt); err != nil {
		return nil, fmt.Errorf("failed to save split calculation: %w", err)
	}

	log.Info().
		Str("table_session_id", tableSessionID.String()).
		Str("split_type", string(calc.SplitType)).
		Str("updated_by", callerGuestID).
		Int("participants", len(calc.Participants)).
		Msg("split type changed")

	a.touchActivity(ctx, tableSessionID, callerGuestID)
	a.applyLockState(calc)
	return calc, nil
}

// UpdateUserPercentage sets one guest's percentage. The caller may only
// write their own entry; other guests' entries are never rebalanced, and
// a sum above 100% rejects the write instead of scaling anyone down.
func (a *App) UpdateUserPercentage(ctx context.Context, tableSessionID uuid.UUID, callerGuestID, userID string, percentage float64) (*models.SplitCalculation, error) {
	if callerGuestID != userID {
		return nil, apperr.Forbidden("you can only update your own percentage")
	}
	if percentage < 0 {
		return nil, apperr.Validation("percentage cannot be negative")
	}

	calc, err := a.loadForUpdate(ctx, tableSessionID, callerGuestID)
	if err != nil {
		return nil, err
	}
	if calc.SplitType != models.SplitTypeByPercentage {
		return nil, apperr.Validation("split type is %s, not BY_PERCENTAGE", calc.SplitType)
	}
	if !calc.HasParticipant(userID) {
		return nil, apperr.Forbidden("you are not a participant of this split")
	}

	if calc.Percentages == nil {
		calc.Percentages = make(map[string]float64)
	}
	newSum := percentageSum(calc.Percentages) - calc.Percentages[userID] + percentage
	if newSum > 100+sumEpsilon {
		return nil, apperr.Validation("total percentage %.1f%% exceeds 100%%", newSum)
	}

	calc.Percentages[userID] = percentage
	return a.commitValueUpdate(ctx, calc, callerGuestID, "percentage", nil)
}

// UpdateUserAmount sets one guest's fixed amount, with the same per-owner
// exclusivity and no-auto-rebalance rules as percentages
func (a *App) UpdateUserAmount(ctx context.Context, tableSessionID uuid.UUID, callerGuestID, userID string, amount float64) (*models.SplitCalculation, error) {
	if callerGuestID != userID {
		return nil, apperr.Forbidden("you can only update your own amount")
	}
	if amount < 0 {
		return nil, apperr.Validation("amount cannot be negative")
	}

	calc, err := a.loadForUpdate(ctx, tableSessionID, callerGuestID)
	if err != nil {
		return nil, err
	}
	if calc.SplitType != models.SplitTypeByAmount {
		return nil, apperr.Validation("split type is %s, not BY_AMOUNT", calc.SplitType)
	}
	if !calc.HasParticipant(userID) {
		return nil, apperr.Forbidden("you are not a participant of this split")
	}

	if calc.Amounts == nil {
		calc.Amounts = make(map[string]float64)
	}
	newSum := amountSum(calc.Amounts) - calc.Amounts[userID] + amount
	if newSum > calc.TotalAmount+sumEpsilon {
		return nil, apperr.Validation("total amounts $%.2f exceed the remaining balance $%.2f", newSum, calc.TotalAmount)
	}

	calc.Amounts[userID] = amount
	return a.commitValueUpdate(ctx, calc, callerGuestID, "amount", nil)
}

// UpdateItemAssignment assigns one order item to one guest. Any
// participant may claim or reassign any item (last write wins per item);
// the mutation records which guest performed it.
func (a *App) UpdateItemAssignment(ctx context.Context, tableSessionID uuid.UUID, callerGuestID string, itemID uuid.UUID, userID string) (*models.SplitCalculation, error) {
	return a.UpdateItemAssignments(ctx, tableSessionID, callerGuestID, map[uuid.UUID]string{itemID: userID})
}

// UpdateItemAssignments applies a batch of item assignments. The whole
// batch is validated before anything is written: one bad entry rejects
// the request without committing or broadcasting any of it.
func (a *App) UpdateItemAssignments(ctx context.Context, tableSessionID uuid.UUID, callerGuestID string, assignments map[uuid.UUID]string) (*models.SplitCalculation, error) {
	if len(assignments) == 0 {
		return nil, apperr.Validation("at least one item assignment is required")
	}

	calc, err := a.loadForUpdate(ctx, tableSessionID, callerGuestID)
	if err != nil {
		return nil, err
	}
	if calc.SplitType != models.SplitTypeByItems {
		return nil, apperr.Validation("split type is %s, not BY_ITEMS", calc.SplitType)
	}
	if !calc.HasParticipant(callerGuestID) {
		return nil, apperr.Forbidden("you are not a participant of this split")
	}

	bill, err := a.bills.GetBill(ctx, tableSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill: %w", err)
	}
	for itemID, userID := range assignments {
		if !calc.HasParticipant(userID) {
			return nil, apperr.Validation("assignee %s is not a participant of this split", userID)
		}
		if !billHasItem(bill, itemID) {
			return nil, apperr.Validation("order item %s is not on this bill", itemID)
		}
	}

	if calc.ItemAssignments == nil {
		calc.ItemAssignments = make(map[uuid.UUID]string, len(assignments))
	}
	for itemID, userID := range assignments {
		calc.ItemAssignments[itemID] = userID
	}
	return a.commitValueUpdate(ctx, calc, callerGuestID, "item_assignment", bill.Items)
}

// AcquireEditLock takes the session's advisory edit lock for the caller
// and broadcasts that editing started
func (a *App) AcquireEditLock(ctx context.Context, tableSessionID uuid.UUID, callerGuestID string) error {
	userName, err := a.participantName(ctx, tableSessionID, callerGuestID)
	if err != nil {
		return err
	}
	if !a.locks.Acquire(tableSessionID, callerGuestID) {
		return apperr.Forbidden("someone else is editing the split, try again shortly")
	}

	payload := events.SplitEditingPayload{
		TableSessionID: tableSessionID.String(),
		EditingBy:      callerGuestID,
		EditingUser:    userName,
		Timestamp:      a.clock.Now(),
	}
	evt, err := outbox.NewEvent(tableSessionID, events.TypeSplitBeingEdited, payload)
	if err != nil {
		return err
	}
	if err := a.repo.InsertEvent(ctx, evt); err != nil {
		// Lock state is advisory; a lost broadcast only costs the
		// "Alice is editing" hint on other devices.
		log.Error().Err(err).Str("table_session_id", tableSessionID.String()).Msg("failed to broadcast lock acquire")
	}
	a.touchActivity(ctx, tableSessionID, callerGuestID)
	return nil
}

// ReleaseEditLock releases the caller's edit lock and broadcasts that
// editing finished. No-op if the caller is not the holder.
func (a *App) ReleaseEditLock(ctx context.Context, tableSessionID uuid.UUID, callerGuestID string) error {
	userName, err := a.participantName(ctx, tableSessionID, callerGuestID)
	if err != nil {
		return err
	}
	a.locks.Release(tableSessionID, callerGuestID)

	payload := events.SplitEditingPayload{
		TableSessionID: tableSessionID.String(),
		EditingBy:      callerGuestID,
		EditingUser:    userName,
		Timestamp:      a.clock.Now(),
	}
	evt, err := outbox.NewEvent(tableSessionID, events.TypeSplitEditingDone, payload)
	if err != nil {
		return err
	}
	if err := a.repo.InsertEvent(ctx, evt); err != nil {
		log.Error().Err(err).Str("table_session_id", tableSessionID.String()).Msg("failed to broadcast lock release")
	}
	a.touchActivity(ctx, tableSessionID, callerGuestID)
	return nil
}

// loadForUpdate loads the calculation and enforces the edit lock
func (a *App) loadForUpdate(ctx context.Context, tableSessionID uuid.UUID, callerGuestID string) (*models.SplitCalculation, error) {
	if _, blocked := a.locks.BlockedBy(tableSessionID, callerGuestID); blocked {
		return nil, apperr.Forbidden("someone else is editing the split, try again shortly")
	}

	calc, err := a.repo.GetSplitCalculation(ctx, tableSessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("no split calculation exists for this session")
		}
		return nil, fmt.Errorf("failed to load split calculation: %w", err)
	}
	return calc, nil
}

// commitValueUpdate recalculates, persists and broadcasts a value change
func (a *App) commitValueUpdate(ctx context.Context, calc *models.SplitCalculation, callerGuestID, field string, items []models.BillItem) (*models.SplitCalculation, error) {
	calc.UpdatedBy = callerGuestID
	calc.UpdatedAt = a.clock.Now()
	Recalculate(calc, items)

	evt, err := a.calculationUpdatedEvent(calc, false, true, field)
	if err != nil {
		return nil, err
	}
	if err := a.repo.SaveSplitCalculation(ctx, calc, evt); err != nil {
		return nil, fmt.Errorf("failed to save split calculation: %w", err)
	}

	log.Info().
		Str("table_session_id", calc.TableSessionID.String()).
		Str("field", field).
		Str("updated_by", callerGuestID).
		Bool("is_valid", calc.IsValid).
		Float64("remaining", calc.RemainingAmount).
		Msg("split value updated")

	a.touchActivity(ctx, calc.TableSessionID, callerGuestID)
	a.applyLockState(calc)
	return calc, nil
}

func (a *App) calculationUpdatedEvent(calc *models.SplitCalculation, isTypeChange, isValueUpdate bool, field string) (outbox.Event, error) {
	payload := events.SplitCalculationUpdatedPayload{
		TableSessionID:   calc.TableSessionID.String(),
		SplitCalculation: calc,
		UpdatedBy:        calc.UpdatedBy,
		IsTypeChange:     isTypeChange,
		IsValueUpdate:    isValueUpdate,
		UpdatedField:     field,
		Timestamp:        a.clock.Now(),
	}
	return outbox.NewEvent(calc.TableSessionID, events.TypeSplitCalculationUpdated, payload)
}

// touchActivity keeps the session alive after a guest action. Best
// effort: the mutation already committed, so a failed bump is only
// logged.
func (a *App) touchActivity(ctx context.Context, tableSessionID uuid.UUID, guestID string) {
	if err := a.sessions.TouchActivity(ctx, tableSessionID, guestID); err != nil {
		log.Warn().Err(err).
			Str("table_session_id", tableSessionID.String()).
			Str("guest_session_id", guestID).
			Msg("failed to record guest activity")
	}
}

// participantName resolves the caller's display name and verifies they
// belong to the session
func (a *App) participantName(ctx context.Context, tableSessionID uuid.UUID, guestID string) (string, error) {
	users, err := a.sessions.ListParticipants(ctx, tableSessionID)
	if err != nil {
		return "", fmt.Errorf("failed to list participants: %w", err)
	}
	for _, u := range users {
		if u.GuestSessionID == guestID {
			return u.UserName, nil
		}
	}
	return "", apperr.Forbidden("you are not a participant of this session")
}

func (a *App) registeredGuests(ctx context.Context, tableSessionID uuid.UUID) (map[string]bool, error) {
	users, err := a.sessions.ListParticipants(ctx, tableSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	set := make(map[string]bool, len(users))
	for _, u := range users {
		set[u.GuestSessionID] = true
	}
	return set, nil
}

// seedInitialValues populates the type-specific map for the new type.
// All other maps stay nil so receivers drop stale values.
func (a *App) seedInitialValues(calc *models.SplitCalculation, req ChangeSplitTypeRequest, bill *models.Bill) error {
	switch calc.SplitType {
	case models.SplitTypeByPercentage:
		if len(req.Percentages) > 0 {
			if err := validateSeedKeys(calc, mapKeys(req.Percentages)); err != nil {
				return err
			}
			if sum := percentageSum(req.Percentages); sum > 100+sumEpsilon {
				return apperr.Validation("total percentage %.1f%% exceeds 100%%", sum)
			}
			for _, pct := range req.Percentages {
				if pct < 0 {
					return apperr.Validation("percentage cannot be negative")
				}
			}
			calc.Percentages = req.Percentages
			return nil
		}
		calc.Percentages = defaultPercentages(calc.Participants)

	case models.SplitTypeByAmount:
		if len(req.Amounts) > 0 {
			if err := validateSeedKeys(calc, mapKeys(req.Amounts)); err != nil {
				return err
			}
			for _, amt := range req.Amounts {
				if amt < 0 {
					return apperr.Validation("amount cannot be negative")
				}
			}
			if sum := amountSum(req.Amounts); sum > calc.TotalAmount+sumEpsilon {
				return apperr.Validation("total amounts $%.2f exceed the remaining balance $%.2f", sum, calc.TotalAmount)
			}
			calc.Amounts = req.Amounts
			return nil
		}
		calc.Amounts = make(map[string]float64)

	case models.SplitTypeByItems:
		calc.ItemAssignments = make(map[uuid.UUID]string)
		for itemID, guest := range req.ItemAssignments {
			if !calc.HasParticipant(guest) {
				return apperr.Validation("assignee %s is not a participant of this split", guest)
			}
			if !billHasItem(bill, itemID) {
				return apperr.Validation("order item %s is not on this bill", itemID)
			}
			calc.ItemAssignments[itemID] = guest
		}
	}
	return nil
}

// defaultPercentages splits 100% evenly; the last participant absorbs the
// rounding remainder so the seed always sums to exactly 100
func defaultPercentages(participants []string) map[string]float64 {
	n := len(participants)
	out := make(map[string]float64, n)
	share := math.Floor(100/float64(n)*100+0.5) / 100
	assigned := 0.0
	for i, guest := range participants {
		if i == n-1 {
			out[guest] = Round2(100 - assigned)
			break
		}
		out[guest] = share
		assigned += share
	}
	return out
}

func validateSeedKeys(calc *models.SplitCalculation, keys []string) error {
	for _, guest := range keys {
		if !calc.HasParticipant(guest) {
			return apperr.Validation("guest %s is not a participant of this split", guest)
		}
	}
	return nil
}

func mapKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func billHasItem(bill *models.Bill, itemID uuid.UUID) bool {
	for _, item := range bill.Items {
		if item.ID == itemID {
			return true
		}
	}
	return false
}

func validateSplitType(splitType models.SplitType) error {
	switch splitType {
	case models.SplitTypeEqual, models.SplitTypeByPercentage, models.SplitTypeByAmount, models.SplitTypeByItems:
		return nil
	default:
		return apperr.Validation("invalid split type: %s", splitType)
	}
}

// applyLockState reflects the advisory lock onto the returned snapshot
func (a *App) applyLockState(calc *models.SplitCalculation) {
	holder, ok := a.locks.Holder(calc.TableSessionID)
	if !ok {
		calc.IsLocked = false
		calc.LockedBy = ""
		calc.LockedAt = nil
		calc.LockReason = ""
		return
	}
	calc.IsLocked = true
	calc.LockedBy = holder
	calc.LockReason = "split_edit"
	if lockedAt, ok := a.locks.LockedAt(calc.TableSessionID); ok {
		calc.LockedAt = &lockedAt
	}
}
