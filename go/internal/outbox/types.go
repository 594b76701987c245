package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotifyChannel is the Postgres NOTIFY channel the listener subscribes to
const NotifyChannel = "table_session_outbox_events"

// Event represents an outbox event for the application layer. Events are
// inserted in the same transaction as the state change they describe, so a
// rejected mutation can never be broadcast.
type Event struct {
	ID             uuid.UUID       `json:"id"`
	TableSessionID uuid.UUID       `json:"table_session_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
}

// NewEvent builds an outbox event, marshaling the payload
func NewEvent(tableSessionID uuid.UUID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:             uuid.New(),
		TableSessionID: tableSessionID,
		EventType:      eventType,
		Payload:        data,
	}, nil
}
