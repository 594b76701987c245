// Package reconcile implements the device-side merge logic between
// optimistic local edits and authoritative server events. It decides
// what a device renders: its own echoed update confirms in place, a
// foreign update triggers a full refresh, and a type change overwrites
// everything.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tabsyteam/tabsy-core/go/internal/events"
	"github.com/tabsyteam/tabsy-core/go/internal/gateway"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
)

// Fetcher re-fetches authoritative split state over HTTP
type Fetcher interface {
	GetSplitCalculation(ctx context.Context, tableSessionID uuid.UUID) (*models.SplitCalculation, error)
}

// Reconciler maintains one device's view of the split state
type Reconciler struct {
	mu sync.Mutex

	guestSessionID string
	tableSessionID uuid.UUID
	fetcher        Fetcher

	current *models.SplitCalculation

	// pending maps an in-flight locally-edited field to the snapshot to
	// restore if the edit fails
	pending map[string]*models.SplitCalculation

	editingBy    string
	editingUser  string
	disconnected bool
}

func NewReconciler(guestSessionID string, tableSessionID uuid.UUID, fetcher Fetcher) *Reconciler {
	return &Reconciler{
		guestSessionID: guestSessionID,
		tableSessionID: tableSessionID,
		fetcher:        fetcher,
		pending:        make(map[string]*models.SplitCalculation),
	}
}

// Snapshot returns the current local view, which may include optimistic
// values for fields with in-flight edits
func (r *Reconciler) Snapshot() *models.SplitCalculation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// EditingBy reports who currently holds the edit lock, for the
// "Alice is editing" hint
func (r *Reconciler) EditingBy() (guestSessionID, userName string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.editingBy, r.editingUser, r.editingBy != ""
}

// Disconnected reports whether the realtime channel reached its terminal
// disconnect state
func (r *Reconciler) Disconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

// ApplyOptimistic applies a local edit before the server confirms it,
// remembering the prior state for rollback
func (r *Reconciler) ApplyOptimistic(field string, mutate func(*models.SplitCalculation)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return
	}
	if _, exists := r.pending[field]; !exists {
		r.pending[field] = r.current
	}
	clone := *r.current
	mutate(&clone)
	r.current = &clone
}

// ConfirmLocalEdit replaces the optimistic value with the authoritative
// response from the mutation itself
func (r *Reconciler) ConfirmLocalEdit(field string, authoritative *models.SplitCalculation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, field)
	r.current = authoritative
}

// RollbackLocalEdit restores the last known server value after a failed
// edit. A failed edit is never silently swallowed into the local view.
func (r *Reconciler) RollbackLocalEdit(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, ok := r.pending[field]
	if !ok {
		return
	}
	delete(r.pending, field)
	r.current = snapshot
}

// Refresh replaces the local view with freshly-fetched server state
func (r *Reconciler) Refresh(ctx context.Context) error {
	calc, err := r.fetcher.GetSplitCalculation(ctx, r.tableSessionID)
	if err != nil {
		return fmt.Errorf("failed to refresh split state: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = calc
	return nil
}

// HandleEvent merges one realtime event into the local view
func (r *Reconciler) HandleEvent(ctx context.Context, event *gateway.SessionEvent) error {
	parsed, err := gateway.ParseEventPayload(event)
	if err != nil {
		// Malformed events are logged and dropped, never guessed at
		log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("dropping malformed event")
		return err
	}

	switch payload := parsed.(type) {
	case events.SplitCalculationUpdatedPayload:
		return r.handleCalculationUpdated(ctx, payload)

	case events.SplitEditingPayload:
		r.mu.Lock()
		if event.Type == gateway.EventTypeSplitBeingEdited {
			r.editingBy = payload.EditingBy
			r.editingUser = payload.EditingUser
		} else {
			r.editingBy = ""
			r.editingUser = ""
		}
		r.mu.Unlock()
		return nil

	default:
		// Session/order/payment updates carry no split state to merge
		return nil
	}
}

func (r *Reconciler) handleCalculationUpdated(ctx context.Context, payload events.SplitCalculationUpdatedPayload) error {
	if payload.IsTypeChange {
		// Every participant sees type changes immediately, and buffered
		// local input for the old type is discarded to prevent flicker
		r.mu.Lock()
		r.pending = make(map[string]*models.SplitCalculation)
		r.current = payload.SplitCalculation
		r.mu.Unlock()
		return nil
	}

	if payload.IsValueUpdate && payload.UpdatedBy == r.guestSessionID {
		r.mu.Lock()
		_, isOwnPendingField := r.pending[payload.UpdatedField]
		r.mu.Unlock()
		if isOwnPendingField {
			// Echo of our own in-flight write: confirm in place, no
			// refetch and no flicker. Server-computed amounts win.
			r.ConfirmLocalEdit(payload.UpdatedField, payload.SplitCalculation)
			return nil
		}
	}

	// Foreign update, or our own update we no longer track: the local
	// view must reflect true server state
	return r.Refresh(ctx)
}

// HandleTerminalDisconnect records that the channel gave up reconnecting;
// the view surfaces this instead of silently going stale
func (r *Reconciler) HandleTerminalDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
	log.Warn().
		Str("table_session_id", r.tableSessionID.String()).
		Msg("realtime channel disconnected, local state may be stale")
}
