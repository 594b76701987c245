package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
	"github.com/tabsyteam/tabsy-core/go/internal/outbox"
	"github.com/tabsyteam/tabsy-core/go/internal/sqlutil"
)

// PostgresRepository implements Repository on Postgres
type PostgresRepository struct {
	pool   *pgxpool.Pool
	events *outbox.Repository
}

func NewPostgresRepository(pool *pgxpool.Pool, events *outbox.Repository) *PostgresRepository {
	return &PostgresRepository{pool: pool, events: events}
}

const sessionColumns = `id, table_id, restaurant_id, session_code, status, host_guest_id,
	total_amount, paid_amount, created_at, expires_at, last_activity`

// CreateSession inserts the session, its host membership and the join
// broadcast in one transaction
func (r *PostgresRepository) CreateSession(ctx context.Context, sess *models.TableSession, host *models.TableSessionUser, evt outbox.Event) error {
	return sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO table_sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sess.ID, sess.TableID, sess.RestaurantID, sess.SessionCode, sess.Status, sess.HostGuestID,
			sess.TotalAmount, sess.PaidAmount, sess.CreatedAt, sess.ExpiresAt, sess.LastActivity,
		)
		if err != nil {
			return fmt.Errorf("failed to insert table session: %w", err)
		}
		if err := insertParticipant(ctx, tx, host); err != nil {
			return err
		}
		return r.events.InsertEventTx(ctx, tx, evt)
	})
}

// GetTableSession returns one session by id
func (r *PostgresRepository) GetTableSession(ctx context.Context, id uuid.UUID) (*models.TableSession, error) {
	return r.scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM table_sessions WHERE id = $1`, id))
}

// GetActiveSessionForTable returns the table's non-closed session, if any
func (r *PostgresRepository) GetActiveSessionForTable(ctx context.Context, tableID uuid.UUID) (*models.TableSession, error) {
	return r.scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM table_sessions
		WHERE table_id = $1 AND status != $2 AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1`, tableID, models.TableSessionStatusClosed))
}

// GetSessionByCode looks a session up by its shareable join code
func (r *PostgresRepository) GetSessionByCode(ctx context.Context, code string) (*models.TableSession, error) {
	return r.scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM table_sessions WHERE session_code = $1`, code))
}

// AddParticipant inserts the membership and the join broadcast in one
// transaction, and bumps the session's activity
func (r *PostgresRepository) AddParticipant(ctx context.Context, user *models.TableSessionUser, evt outbox.Event) error {
	return sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertParticipant(ctx, tx, user); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE table_sessions SET last_activity = $2 WHERE id = $1`,
			user.TableSessionID, user.LastActivity,
		)
		if err != nil {
			return fmt.Errorf("failed to touch session activity: %w", err)
		}
		return r.events.InsertEventTx(ctx, tx, evt)
	})
}

// ListParticipants returns the session's guests in join order
func (r *PostgresRepository) ListParticipants(ctx context.Context, tableSessionID uuid.UUID) ([]models.TableSessionUser, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, table_session_id, guest_session_id, user_name, is_host, created_at, last_activity
		FROM table_session_users
		WHERE table_session_id = $1
		ORDER BY created_at`, tableSessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var users []models.TableSessionUser
	for rows.Next() {
		var u models.TableSessionUser
		if err := rows.Scan(&u.ID, &u.TableSessionID, &u.GuestSessionID, &u.UserName, &u.IsHost, &u.CreatedAt, &u.LastActivity); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateStatus persists the lifecycle change and its broadcast in one
// transaction
func (r *PostgresRepository) UpdateStatus(ctx context.Context, sess *models.TableSession, evt outbox.Event) error {
	return sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE table_sessions SET status = $2, last_activity = $3 WHERE id = $1`,
			sess.ID, sess.Status, sess.LastActivity,
		)
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return r.events.InsertEventTx(ctx, tx, evt)
	})
}

// TouchActivity bumps both the guest's and the session's last activity
func (r *PostgresRepository) TouchActivity(ctx context.Context, tableSessionID uuid.UUID, guestSessionID string, at time.Time) error {
	return sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE table_session_users SET last_activity = $3
			WHERE table_session_id = $1 AND guest_session_id = $2`,
			tableSessionID, guestSessionID, at,
		)
		if err != nil {
			return fmt.Errorf("failed to touch participant activity: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE table_sessions SET last_activity = $2 WHERE id = $1`,
			tableSessionID, at,
		)
		if err != nil {
			return fmt.Errorf("failed to touch session activity: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) scanSession(row pgx.Row) (*models.TableSession, error) {
	sess := &models.TableSession{}
	err := row.Scan(
		&sess.ID, &sess.TableID, &sess.RestaurantID, &sess.SessionCode, &sess.Status, &sess.HostGuestID,
		&sess.TotalAmount, &sess.PaidAmount, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan table session: %w", err)
	}
	return sess, nil
}

func insertParticipant(ctx context.Context, tx pgx.Tx, user *models.TableSessionUser) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO table_session_users (id, table_session_id, guest_session_id, user_name, is_host, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.TableSessionID, user.GuestSessionID, user.UserName, user.IsHost, user.CreatedAt, user.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}
