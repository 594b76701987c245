package session

import (
	"github.com/google/uuid"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
)

// CreateSessionRequest opens a new table session, typically after a
// table QR scan
type CreateSessionRequest struct {
	TableID      uuid.UUID `json:"table_id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	UserName     string    `json:"user_name"`
}

// CreateSessionResponse carries everything the first device needs to
// participate: its identity, the shareable join code and the realtime
// token
type CreateSessionResponse struct {
	TableSessionID uuid.UUID `json:"table_session_id"`
	SessionCode    string    `json:"session_code"`
	GuestSessionID string    `json:"guest_session_id"`
	Token          string    `json:"token"`
}

// JoinSessionRequest joins an existing session by its shareable code
type JoinSessionRequest struct {
	SessionCode string `json:"session_code"`
	UserName    string `json:"user_name"`
}

// JoinSessionResponse mirrors CreateSessionResponse for joiners
type JoinSessionResponse struct {
	TableSessionID uuid.UUID `json:"table_session_id"`
	GuestSessionID string    `json:"guest_session_id"`
	Token          string    `json:"token"`
}

// UpdateStatusRequest moves the session along its lifecycle
type UpdateStatusRequest struct {
	Status models.TableSessionStatus `json:"status"`
}
