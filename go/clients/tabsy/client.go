package tabsy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
	"github.com/tabsyteam/tabsy-core/go/internal/session"
	"github.com/tabsyteam/tabsy-core/go/internal/split"
)

// Client is the typed API surface for guest devices
type Client struct {
	*BaseClient
	reads *flightGroup
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseClient: NewBaseClient(baseURL),
		reads:      newFlightGroup(),
	}
}

// SetGuestSession attaches the guest identity to all subsequent requests
func (c *Client) SetGuestSession(guestSessionID string) {
	c.SetHeader(SessionIDHeader, guestSessionID)
}

// CreateSession opens a table session; the caller becomes host
func (c *Client) CreateSession(ctx context.Context, req session.CreateSessionRequest) (*session.CreateSessionResponse, error) {
	var resp session.CreateSessionResponse
	if err := c.Post(ctx, "/api/v1/table-sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinSession joins an existing session by its shareable code
func (c *Client) JoinSession(ctx context.Context, req session.JoinSessionRequest) (*session.JoinSessionResponse, error) {
	var resp session.JoinSessionResponse
	if err := c.Post(ctx, "/api/v1/table-sessions/join", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListParticipants returns the session's guests
func (c *Client) ListParticipants(ctx context.Context, tableSessionID uuid.UUID) ([]models.TableSessionUser, error) {
	var users []models.TableSessionUser
	err := c.Get(ctx, fmt.Sprintf("/api/v1/table-sessions/%s/users", tableSessionID), &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// GetSplitCalculation reads the current split state. Concurrent calls
// for the same session collapse into one underlying fetch, so a rapid
// double-call from one client costs a single round-trip.
func (c *Client) GetSplitCalculation(ctx context.Context, tableSessionID uuid.UUID) (*models.SplitCalculation, error) {
	key := "split-calculation:" + tableSessionID.String()
	val, err := c.reads.Do(key, func() (any, error) {
		var calc models.SplitCalculation
		err := c.Get(ctx, fmt.Sprintf("/api/v1/table-sessions/%s/split-calculation", tableSessionID), &calc)
		if err != nil {
			return nil, err
		}
		return &calc, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*models.SplitCalculation), nil
}

// GetBill reads the aggregated bill view
func (c *Client) GetBill(ctx context.Context, tableSessionID uuid.UUID) (*models.Bill, error) {
	var bill models.Bill
	err := c.Get(ctx, fmt.Sprintf("/api/v1/table-sessions/%s/bill", tableSessionID), &bill)
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// ChangeSplitType creates or replaces the split configuration
func (c *Client) ChangeSplitType(ctx context.Context, tableSessionID uuid.UUID, req split.ChangeSplitTypeRequest) (*models.SplitCalculation, error) {
	var calc models.SplitCalculation
	err := c.Post(ctx, fmt.Sprintf("/api/v1/table-sessions/%s/split-calculation", tableSessionID), req, &calc)
	if err != nil {
		return nil, err
	}
	return &calc, nil
}

// UpdateUserPercentage sets the caller's own percentage entry. Concurrent
// updates for the same user key collapse into one request.
func (c *Client) UpdateUserPercentage(ctx context.Context, tableSessionID uuid.UUID, userID string, percentage float64) (*models.SplitCalculation, error) {
	key := fmt.Sprintf("percentage:%s:%s:%v", tableSessionID, userID, percentage)
	return c.dedupedPatch(ctx, key, tableSessionID, userID, split.UpdateUserFieldRequest{Percentage: &percentage})
}

// UpdateUserAmount sets the caller's own fixed amount entry
func (c *Client) UpdateUserAmount(ctx context.Context, tableSessionID uuid.UUID, userID string, amount float64) (*models.SplitCalculation, error) {
	key := fmt.Sprintf("amount:%s:%s:%v", tableSessionID, userID, amount)
	return c.dedupedPatch(ctx, key, tableSessionID, userID, split.UpdateUserFieldRequest{Amount: &amount})
}

// UpdateItemAssignments assigns order items to guests
func (c *Client) UpdateItemAssignments(ctx context.Context, tableSessionID uuid.UUID, userID string, assignments map[uuid.UUID]string) (*models.SplitCalculation, error) {
	var calc models.SplitCalculation
	err := c.Patch(ctx,
		fmt.Sprintf("/api/v1/table-sessions/%s/split-calculation/%s", tableSessionID, userID),
		split.UpdateUserFieldRequest{ItemAssignments: assignments}, &calc)
	if err != nil {
		return nil, err
	}
	return &calc, nil
}

// AcquireEditLock takes the session's advisory edit lock
func (c *Client) AcquireEditLock(ctx context.Context, tableSessionID uuid.UUID) error {
	return c.Post(ctx, fmt.Sprintf("/api/v1/table-sessions/%s/split-calculation/lock", tableSessionID), nil, nil)
}

// ReleaseEditLock releases the caller's edit lock
func (c *Client) ReleaseEditLock(ctx context.Context, tableSessionID uuid.UUID) error {
	return c.Delete(ctx, fmt.Sprintf("/api/v1/table-sessions/%s/split-calculation/lock", tableSessionID), nil)
}

func (c *Client) dedupedPatch(ctx context.Context, key string, tableSessionID uuid.UUID, userID string, req split.UpdateUserFieldRequest) (*models.SplitCalculation, error) {
	val, err := c.reads.Do(key, func() (any, error) {
		var calc models.SplitCalculation
		err := c.Patch(ctx,
			fmt.Sprintf("/api/v1/table-sessions/%s/split-calculation/%s", tableSessionID, userID),
			req, &calc)
		if err != nil {
			return nil, err
		}
		return &calc, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*models.SplitCalculation), nil
}
