package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEventTx stores an event inside the caller's transaction and pings
// the NOTIFY channel so the listener wakes up as soon as the tx commits.
func (r *Repository) InsertEventTx(ctx context.Context, tx pgx.Tx, evt Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO session_outbox (id, table_session_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		evt.ID, evt.TableSessionID, evt.EventType, evt.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, evt.ID.String()); err != nil {
		return fmt.Errorf("failed to notify outbox channel: %w", err)
	}
	return nil
}

// InsertEvent stores an event outside any state-changing transaction.
// Used for ephemeral broadcasts such as lock state changes.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin outbox tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.InsertEventTx(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FetchUnsent returns up to limit unsent events in creation order
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, table_session_id, event_type, payload, created_at, sent_at
		FROM session_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.TableSessionID, &evt.EventType, &evt.Payload, &evt.CreatedAt, &evt.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// MarkSent records that an event was handed to the broker
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `UPDATE session_outbox SET sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}

// CountUnsent reports the current outbox backlog
func (r *Repository) CountUnsent(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM session_outbox WHERE sent_at IS NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unsent events: %w", err)
	}
	return count, nil
}
