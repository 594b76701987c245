package models

import (
	"time"

	"github.com/google/uuid"
)

// TableSessionStatus represents the lifecycle state of a table session
type TableSessionStatus string

const (
	TableSessionStatusActive         TableSessionStatus = "ACTIVE"
	TableSessionStatusOrderingLocked TableSessionStatus = "ORDERING_LOCKED"
	TableSessionStatusPaymentPending TableSessionStatus = "PAYMENT_PENDING"
	TableSessionStatusClosed         TableSessionStatus = "CLOSED"
)

// TableSession represents one active dining occasion at one physical table
type TableSession struct {
	ID           uuid.UUID          `json:"id"`
	TableID      uuid.UUID          `json:"table_id"`
	RestaurantID uuid.UUID          `json:"restaurant_id"`
	SessionCode  string             `json:"session_code"`
	Status       TableSessionStatus `json:"status"`
	HostGuestID  *string            `json:"host_guest_id,omitempty"`
	TotalAmount  float64            `json:"total_amount"`
	PaidAmount   float64            `json:"paid_amount"`
	CreatedAt    time.Time          `json:"created_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
	LastActivity time.Time          `json:"last_activity"`
}

// TableSessionUser represents one guest device's membership in a table session.
// Records are never hard-deleted during the session; they back the bill history.
type TableSessionUser struct {
	ID             uuid.UUID `json:"id"`
	TableSessionID uuid.UUID `json:"table_session_id"`
	GuestSessionID string    `json:"guest_session_id"`
	UserName       string    `json:"user_name"`
	IsHost         bool      `json:"is_host"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// BillItem is one order line consumed read-only by the split engine
type BillItem struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Quantity int       `json:"quantity"`
	Price    float64   `json:"price"`
}

// Bill is the aggregated bill view for a table session
type Bill struct {
	TableSessionID uuid.UUID  `json:"table_session_id"`
	Items          []BillItem `json:"items"`
	TotalAmount    float64    `json:"total_amount"`
	PaidAmount     float64    `json:"paid_amount"`
}

// RemainingAmount is the unpaid portion of the bill
func (b *Bill) RemainingAmount() float64 {
	return b.TotalAmount - b.PaidAmount
}
