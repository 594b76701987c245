package split

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
	"github.com/tabsyteam/tabsy-core/go/internal/outbox"
	"github.com/tabsyteam/tabsy-core/go/internal/sqlutil"
)

// Repository implements SplitRepository on Postgres. The per-guest maps
// are stored as jsonb; there is at most one row per table session.
type Repository struct {
	pool   *pgxpool.Pool
	events *outbox.Repository
}

func NewRepository(pool *pgxpool.Pool, events *outbox.Repository) *Repository {
	return &Repository{pool: pool, events: events}
}

// GetSplitCalculation returns the current split state for a session
func (r *Repository) GetSplitCalculation(ctx context.Context, tableSessionID uuid.UUID) (*models.SplitCalculation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT table_session_id, split_type, participants, split_amounts,
		       percentages, amounts, item_assignments,
		       total_amount, remaining_amount, is_valid, updated_by, updated_at
		FROM split_calculations
		WHERE table_session_id = $1`, tableSessionID,
	)

	calc := &models.SplitCalculation{}
	var participants, splitAmounts, percentages, amounts, itemAssignments []byte
	err := row.Scan(
		&calc.TableSessionID, &calc.SplitType, &participants, &splitAmounts,
		&percentages, &amounts, &itemAssignments,
		&calc.TotalAmount, &calc.RemainingAmount, &calc.IsValid, &calc.UpdatedBy, &calc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get split calculation: %w", err)
	}

	if err := unmarshalColumn(participants, &calc.Participants); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(splitAmounts, &calc.SplitAmounts); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(percentages, &calc.Percentages); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(amounts, &calc.Amounts); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(itemAssignments, &calc.ItemAssignments); err != nil {
		return nil, err
	}
	return calc, nil
}

// SaveSplitCalculation upserts the split state and inserts the outbox
// event in the same transaction, so the broadcast exists iff the write
// committed
func (r *Repository) SaveSplitCalculation(ctx context.Context, calc *models.SplitCalculation, evt outbox.Event) error {
	participants, err := json.Marshal(calc.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	splitAmounts, err := json.Marshal(calc.SplitAmounts)
	if err != nil {
		return fmt.Errorf("failed to marshal split amounts: %w", err)
	}
	percentages, err := marshalNullable(calc.Percentages)
	if err != nil {
		return err
	}
	amounts, err := marshalNullable(calc.Amounts)
	if err != nil {
		return err
	}
	itemAssignments, err := marshalNullableItems(calc.ItemAssignments)
	if err != nil {
		return err
	}

	return sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO split_calculations (
				table_session_id, split_type, participants, split_amounts,
				percentages, amounts, item_assignments,
				total_amount, remaining_amount, is_valid, updated_by, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (table_session_id) DO UPDATE SET
				split_type = EXCLUDED.split_type,
				participants = EXCLUDED.participants,
				split_amounts = EXCLUDED.split_amounts,
				percentages = EXCLUDED.percentages,
				amounts = EXCLUDED.amounts,
				item_assignments = EXCLUDED.item_assignments,
				total_amount = EXCLUDED.total_amount,
				remaining_amount = EXCLUDED.remaining_amount,
				is_valid = EXCLUDED.is_valid,
				updated_by = EXCLUDED.updated_by,
				updated_at = EXCLUDED.updated_at`,
			calc.TableSessionID, calc.SplitType, participants, splitAmounts,
			percentages, amounts, itemAssignments,
			calc.TotalAmount, calc.RemainingAmount, calc.IsValid, calc.UpdatedBy, calc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert split calculation: %w", err)
		}
		return r.events.InsertEventTx(ctx, tx, evt)
	})
}

// InsertEvent stores a standalone broadcast event (lock state changes)
func (r *Repository) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return r.events.InsertEvent(ctx, evt)
}

func unmarshalColumn[T any](data []byte, dst *T) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal split column: %w", err)
	}
	return nil
}

func marshalNullable(m map[string]float64) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal split column: %w", err)
	}
	return data, nil
}

func marshalNullableItems(m map[uuid.UUID]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item assignments: %w", err)
	}
	return data, nil
}

// BillRepository aggregates the read-only bill view from the order lines
// and the session's payment progress
type BillRepository struct {
	pool *pgxpool.Pool
}

func NewBillRepository(pool *pgxpool.Pool) *BillRepository {
	return &BillRepository{pool: pool}
}

// GetBill returns the bill for a table session
func (r *BillRepository) GetBill(ctx context.Context, tableSessionID uuid.UUID) (*models.Bill, error) {
	bill := &models.Bill{TableSessionID: tableSessionID}

	err := r.pool.QueryRow(ctx, `
		SELECT total_amount, paid_amount
		FROM table_sessions
		WHERE id = $1`, tableSessionID,
	).Scan(&bill.TotalAmount, &bill.PaidAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("table session %s: %w", tableSessionID, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get bill totals: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, quantity, price
		FROM order_items
		WHERE table_session_id = $1
		ORDER BY created_at`, tableSessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.BillItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		bill.Items = append(bill.Items, item)
	}
	return bill, rows.Err()
}
