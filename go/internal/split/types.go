package split

import (
	"github.com/google/uuid"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
)

// ChangeSplitTypeRequest represents a request to create or replace the
// split configuration for a table session
type ChangeSplitTypeRequest struct {
	SplitType    models.SplitType `json:"split_type"`
	Participants []string         `json:"participants"`

	// Optional initial values for the new type. Entries for types other
	// than the requested one are ignored.
	Percentages     map[string]float64   `json:"percentages,omitempty"`
	Amounts         map[string]float64   `json:"amounts,omitempty"`
	ItemAssignments map[uuid.UUID]string `json:"item_assignments,omitempty"`
}

// UpdateUserFieldRequest represents a single-field split update. Exactly
// one of the fields must be set.
type UpdateUserFieldRequest struct {
	Percentage      *float64             `json:"percentage,omitempty"`
	Amount          *float64             `json:"amount,omitempty"`
	ItemAssignments map[uuid.UUID]string `json:"item_assignments,omitempty"`
}
