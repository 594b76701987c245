package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tabsyteam/tabsy-core/go/internal/events"
)

// SessionEvent is the wire format pushed to connected devices
type SessionEvent struct {
	ID             string          `json:"id"`
	TableSessionID string          `json:"table_session_id"`
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data"`
}

// EventType represents the type of table session event
type EventType string

const (
	EventTypeSplitCalculationUpdated EventType = events.TypeSplitCalculationUpdated
	EventTypeSplitBeingEdited        EventType = events.TypeSplitBeingEdited
	EventTypeSplitEditingDone        EventType = events.TypeSplitEditingDone
	EventTypeTableSessionUpdated     EventType = events.TypeTableSessionUpdated
	EventTypeUserJoined              EventType = events.TypeUserJoinedTableSession
	EventTypeOrderStatusUpdated      EventType = events.TypeOrderStatusUpdated
	EventTypePaymentStatusUpdated    EventType = events.TypePaymentStatusUpdated
)

// ParseEventPayload parses event data into the payload struct for its
// type. Each type has exactly one canonical shape; unknown types and
// malformed payloads are rejected, never guessed at.
func ParseEventPayload(event *SessionEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeSplitCalculationUpdated:
		var payload events.SplitCalculationUpdatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", event.Type, err)
		}
		return payload, nil

	case EventTypeSplitBeingEdited, EventTypeSplitEditingDone:
		var payload events.SplitEditingPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", event.Type, err)
		}
		return payload, nil

	case EventTypeTableSessionUpdated:
		var payload events.TableSessionUpdatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", event.Type, err)
		}
		return payload, nil

	case EventTypeUserJoined:
		var payload events.UserJoinedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", event.Type, err)
		}
		return payload, nil

	case EventTypeOrderStatusUpdated:
		var payload events.OrderStatusUpdatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", event.Type, err)
		}
		return payload, nil

	case EventTypePaymentStatusUpdated:
		var payload events.PaymentStatusUpdatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", event.Type, err)
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
