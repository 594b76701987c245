package events

import (
	"time"

	"github.com/tabsyteam/tabsy-core/go/internal/models"
)

// Event types published on the table-session stream. Each type has exactly
// one payload shape; consumers reject anything that does not parse.

const (
	TypeSplitCalculationUpdated = "split:calculation_updated"
	TypeSplitBeingEdited        = "split:being_edited"
	TypeSplitEditingDone        = "split:editing_done"
	TypeTableSessionUpdated     = "table:session_updated"
	TypeUserJoinedTableSession  = "user_joined_table_session"
	TypeOrderStatusUpdated      = "order:status_updated"
	TypePaymentStatusUpdated    = "payment:status_updated"
)

// SplitCalculationUpdatedPayload is the payload for split:calculation_updated.
// IsTypeChange and IsValueUpdate are mutually exclusive and drive the client
// reconciliation path.
type SplitCalculationUpdatedPayload struct {
	TableSessionID   string                   `json:"table_session_id"`
	SplitCalculation *models.SplitCalculation `json:"split_calculation"`
	UpdatedBy        string                   `json:"updated_by"`
	IsTypeChange     bool                     `json:"is_type_change,omitempty"`
	IsValueUpdate    bool                     `json:"is_value_update,omitempty"`
	UpdatedField     string                   `json:"updated_field,omitempty"`
	Timestamp        time.Time                `json:"timestamp"`
}

// SplitEditingPayload is the payload for split:being_edited and
// split:editing_done lock broadcasts
type SplitEditingPayload struct {
	TableSessionID string    `json:"table_session_id"`
	EditingBy      string    `json:"editing_by"`
	EditingUser    string    `json:"editing_user"`
	Timestamp      time.Time `json:"timestamp"`
}

// TableSessionUpdatedPayload is the payload for table:session_updated
type TableSessionUpdatedPayload struct {
	TableSessionID string                    `json:"table_session_id"`
	Status         models.TableSessionStatus `json:"status"`
	TotalAmount    float64                   `json:"total_amount"`
	PaidAmount     float64                   `json:"paid_amount"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// UserJoinedPayload is the payload for user_joined_table_session
type UserJoinedPayload struct {
	TableSessionID string    `json:"table_session_id"`
	GuestSessionID string    `json:"guest_session_id"`
	UserName       string    `json:"user_name"`
	IsHost         bool      `json:"is_host"`
	JoinedAt       time.Time `json:"joined_at"`
}

// OrderStatusUpdatedPayload is the payload for order:status_updated
type OrderStatusUpdatedPayload struct {
	TableSessionID string    `json:"table_session_id"`
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// PaymentStatusUpdatedPayload is the payload for payment:status_updated
type PaymentStatusUpdatedPayload struct {
	TableSessionID string    `json:"table_session_id"`
	PaymentID      string    `json:"payment_id"`
	Status         string    `json:"status"`
	Amount         float64   `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}
