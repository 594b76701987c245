// Package editlock provides the short-lived advisory lock that serializes
// split edits within one table session. Locks are process-local and
// ephemeral; expiry is lazy, checked on the next read after the TTL passes.
package editlock

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long one guest can block others from editing
const DefaultTTL = 15 * time.Second

type lockState struct {
	holder   string
	lockedAt time.Time
	expiry   time.Time
}

// Coordinator manages one advisory lock per table session
type Coordinator struct {
	mu    sync.Mutex
	locks map[uuid.UUID]lockState
	ttl   time.Duration
	clock clockwork.Clock
}

// NewCoordinator creates a lock coordinator with the given TTL.
// The clock is injected so tests can advance time.
func NewCoordinator(ttl time.Duration, clock clockwork.Clock) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		locks: make(map[uuid.UUID]lockState),
		ttl:   ttl,
		clock: clock,
	}
}

// Acquire grants the lock if it is free, expired, or already held by the
// same guest (reentrant, which also renews the TTL). It returns false if
// another guest holds a live lock.
func (c *Coordinator) Acquire(tableSessionID uuid.UUID, guestSessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if state, ok := c.locks[tableSessionID]; ok && now.Before(state.expiry) && state.holder != guestSessionID {
		return false
	}

	c.locks[tableSessionID] = lockState{
		holder:   guestSessionID,
		lockedAt: now,
		expiry:   now.Add(c.ttl),
	}

	log.Debug().
		Str("table_session_id", tableSessionID.String()).
		Str("guest_session_id", guestSessionID).
		Time("expiry", now.Add(c.ttl)).
		Msg("edit lock acquired")
	return true
}

// Release clears the lock. No-op if the guest is not the holder.
func (c *Coordinator) Release(tableSessionID uuid.UUID, guestSessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.locks[tableSessionID]
	if !ok || state.holder != guestSessionID {
		return
	}
	delete(c.locks, tableSessionID)

	log.Debug().
		Str("table_session_id", tableSessionID.String()).
		Str("guest_session_id", guestSessionID).
		Msg("edit lock released")
}

// Holder returns the current live holder, if any. An expired lock reads
// as unlocked and is removed.
func (c *Coordinator) Holder(tableSessionID uuid.UUID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.locks[tableSessionID]
	if !ok {
		return "", false
	}
	if !c.clock.Now().Before(state.expiry) {
		delete(c.locks, tableSessionID)
		return "", false
	}
	return state.holder, true
}

// LockedAt returns when the live holder acquired the lock
func (c *Coordinator) LockedAt(tableSessionID uuid.UUID) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.locks[tableSessionID]
	if !ok || !c.clock.Now().Before(state.expiry) {
		return time.Time{}, false
	}
	return state.lockedAt, true
}

// BlockedBy returns the guest blocking a write, if the session is locked
// by someone other than the caller
func (c *Coordinator) BlockedBy(tableSessionID uuid.UUID, guestSessionID string) (string, bool) {
	holder, ok := c.Holder(tableSessionID)
	if !ok || holder == guestSessionID {
		return "", false
	}
	return holder, true
}
