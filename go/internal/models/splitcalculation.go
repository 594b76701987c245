package models

import (
	"time"

	"github.com/google/uuid"
)

// SplitType represents how the bill is divided among participants
type SplitType string

const (
	SplitTypeEqual        SplitType = "EQUAL"
	SplitTypeByPercentage SplitType = "BY_PERCENTAGE"
	SplitTypeByAmount     SplitType = "BY_AMOUNT"
	SplitTypeByItems      SplitType = "BY_ITEMS"
)

// SplitCalculation is the authoritative split state for one table session.
// There is at most one per session; changing the split type replaces it.
//
// SplitAmounts is always server-computed and is the number clients must
// display. Percentages and Amounts entries are each owned exclusively by
// the guest they are keyed on; the engine never rebalances other guests'
// entries when one guest changes their own.
type SplitCalculation struct {
	TableSessionID  uuid.UUID            `json:"table_session_id"`
	SplitType       SplitType            `json:"split_type"`
	Participants    []string             `json:"participants"`
	SplitAmounts    map[string]float64   `json:"split_amounts"`
	Percentages     map[string]float64   `json:"percentages,omitempty"`
	Amounts         map[string]float64   `json:"amounts,omitempty"`
	ItemAssignments map[uuid.UUID]string `json:"item_assignments,omitempty"`
	TotalAmount     float64              `json:"total_amount"`
	RemainingAmount float64              `json:"remaining_amount"`
	IsValid         bool                 `json:"is_valid"`
	UpdatedBy       string               `json:"updated_by"`
	UpdatedAt       time.Time            `json:"updated_at"`
	IsLocked        bool                 `json:"is_locked"`
	LockedBy        string               `json:"locked_by,omitempty"`
	LockedAt        *time.Time           `json:"locked_at,omitempty"`
	LockReason      string               `json:"lock_reason,omitempty"`
}

// HasParticipant reports whether the guest is part of this split
func (c *SplitCalculation) HasParticipant(guestSessionID string) bool {
	for _, p := range c.Participants {
		if p == guestSessionID {
			return true
		}
	}
	return false
}
