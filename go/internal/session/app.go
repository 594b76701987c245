package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
	"github.com/tabsyteam/tabsy-core/go/internal/events"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
	"github.com/tabsyteam/tabsy-core/go/internal/outbox"
)

// ErrNotFound is returned by repositories when a session does not exist
var ErrNotFound = errors.New("table session not found")

// DefaultSessionTTL bounds how long an idle session stays joinable
const DefaultSessionTTL = 4 * time.Hour

// codeAlphabet excludes ambiguous characters (0/O, 1/I/L) since guests
// read the code off another guest's screen
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// Repository defines what the session app layer needs from storage.
// Mutations that must be visible to other devices take the outbox event
// inserted in the same transaction.
type Repository interface {
	CreateSession(ctx context.Context, session *models.TableSession, host *models.TableSessionUser, evt outbox.Event) error
	GetTableSession(ctx context.Context, id uuid.UUID) (*models.TableSession, error)
	GetActiveSessionForTable(ctx context.Context, tableID uuid.UUID) (*models.TableSession, error)
	GetSessionByCode(ctx context.Context, code string) (*models.TableSession, error)
	AddParticipant(ctx context.Context, user *models.TableSessionUser, evt outbox.Event) error
	ListParticipants(ctx context.Context, tableSessionID uuid.UUID) ([]models.TableSessionUser, error)
	UpdateStatus(ctx context.Context, session *models.TableSession, evt outbox.Event) error
	TouchActivity(ctx context.Context, tableSessionID uuid.UUID, guestSessionID string, at time.Time) error
}

// App owns the table session lifecycle and guest membership
type App struct {
	repo       Repository
	tokens     *TokenManager
	clock      clockwork.Clock
	sessionTTL time.Duration
}

func NewApp(repo Repository, tokens *TokenManager, clock clockwork.Clock, sessionTTL time.Duration) *App {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &App{
		repo:       repo,
		tokens:     tokens,
		clock:      clock,
		sessionTTL: sessionTTL,
	}
}

// CreateSession opens a session for a table; the caller becomes host.
// Fails with CONFLICT if the table already has an active session, since
// joining is the expected path then.
func (a *App) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	if req.TableID == uuid.Nil || req.RestaurantID == uuid.Nil {
		return nil, apperr.Validation("table_id and restaurant_id are required")
	}

	existing, err := a.repo.GetActiveSessionForTable(ctx, req.TableID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check for active session: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("a session is already active for this table, join it with code %s", existing.SessionCode)
	}

	code, err := generateSessionCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session code: %w", err)
	}

	now := a.clock.Now()
	guestSessionID := uuid.New().String()
	sess := &models.TableSession{
		ID:           uuid.New(),
		TableID:      req.TableID,
		RestaurantID: req.RestaurantID,
		SessionCode:  code,
		Status:       models.TableSessionStatusActive,
		HostGuestID:  &guestSessionID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(a.sessionTTL),
		LastActivity: now,
	}
	host := &models.TableSessionUser{
		ID:             uuid.New(),
		TableSessionID: sess.ID,
		GuestSessionID: guestSessionID,
		UserName:       defaultName(req.UserName, 1),
		IsHost:         true,
		CreatedAt:      now,
		LastActivity:   now,
	}

	evt, err := joinEvent(host)
	if err != nil {
		return nil, err
	}
	if err := a.repo.CreateSession(ctx, sess, host, evt); err != nil {
		return nil, fmt.Errorf("failed to create table session: %w", err)
	}

	token, err := a.tokens.Issue(guestSessionID, sess.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	log.Info().
		Str("table_session_id", sess.ID.String()).
		Str("table_id", req.TableID.String()).
		Str("session_code", code).
		Msg("table session created")

	return &CreateSessionResponse{
		TableSessionID: sess.ID,
		SessionCode:    code,
		GuestSessionID: guestSessionID,
		Token:          token,
	}, nil
}

// JoinSession adds a guest device to an existing session by code
func (a *App) JoinSession(ctx context.Context, req JoinSessionRequest) (*JoinSessionResponse, error) {
	if req.SessionCode == "" {
		return nil, apperr.Validation("session_code is required")
	}

	sess, err := a.repo.GetSessionByCode(ctx, req.SessionCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("no session found for this code")
		}
		return nil, fmt.Errorf("failed to look up session code: %w", err)
	}

	now := a.clock.Now()
	if now.After(sess.ExpiresAt) {
		return nil, apperr.NotFound("this session code has expired")
	}
	if sess.Status == models.TableSessionStatusClosed {
		return nil, apperr.Conflict("this session is closed")
	}

	participants, err := a.repo.ListParticipants(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	guestSessionID := uuid.New().String()
	user := &models.TableSessionUser{
		ID:             uuid.New(),
		TableSessionID: sess.ID,
		GuestSessionID: guestSessionID,
		UserName:       defaultName(req.UserName, len(participants)+1),
		IsHost:         false,
		CreatedAt:      now,
		LastActivity:   now,
	}

	evt, err := joinEvent(user)
	if err != nil {
		return nil, err
	}
	if err := a.repo.AddParticipant(ctx, user, evt); err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}

	token, err := a.tokens.Issue(guestSessionID, sess.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	log.Info().
		Str("table_session_id", sess.ID.String()).
		Str("guest_session_id", guestSessionID).
		Str("user_name", user.UserName).
		Msg("guest joined table session")

	return &JoinSessionResponse{
		TableSessionID: sess.ID,
		GuestSessionID: guestSessionID,
		Token:          token,
	}, nil
}

// GetTableSession returns one session by id. Sessions past their expiry
// are closed lazily here rather than by a background sweeper.
func (a *App) GetTableSession(ctx context.Context, id uuid.UUID) (*models.TableSession, error) {
	sess, err := a.repo.GetTableSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("table session not found")
		}
		return nil, fmt.Errorf("failed to get table session: %w", err)
	}

	if sess.Status != models.TableSessionStatusClosed && a.clock.Now().After(sess.ExpiresAt) {
		sess.Status = models.TableSessionStatusClosed
		sess.LastActivity = a.clock.Now()
		evt, err := outbox.NewEvent(sess.ID, events.TypeTableSessionUpdated, events.TableSessionUpdatedPayload{
			TableSessionID: sess.ID.String(),
			Status:         sess.Status,
			TotalAmount:    sess.TotalAmount,
			PaidAmount:     sess.PaidAmount,
			Timestamp:      a.clock.Now(),
		})
		if err != nil {
			return nil, err
		}
		if err := a.repo.UpdateStatus(ctx, sess, evt); err != nil {
			return nil, fmt.Errorf("failed to close expired session: %w", err)
		}
		log.Info().Str("table_session_id", sess.ID.String()).Msg("expired table session closed")
	}
	return sess, nil
}

// ListParticipants returns the session's guests in join order
func (a *App) ListParticipants(ctx context.Context, tableSessionID uuid.UUID) ([]models.TableSessionUser, error) {
	users, err := a.repo.ListParticipants(ctx, tableSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return users, nil
}

// TouchActivity records that a guest acted, keeping the session alive
func (a *App) TouchActivity(ctx context.Context, tableSessionID uuid.UUID, guestSessionID string) error {
	return a.repo.TouchActivity(ctx, tableSessionID, guestSessionID, a.clock.Now())
}

// UpdateStatus moves the session along its lifecycle. Transitions are
// monotonic (ACTIVE -> ORDERING_LOCKED -> PAYMENT_PENDING -> CLOSED);
// the only backward step allowed is an explicit ORDERING_LOCKED ->
// ACTIVE unlock.
func (a *App) UpdateStatus(ctx context.Context, tableSessionID uuid.UUID, next models.TableSessionStatus) (*models.TableSession, error) {
	sess, err := a.GetTableSession(ctx, tableSessionID)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(sess.Status, next) {
		return nil, apperr.Validation("cannot transition session from %s to %s", sess.Status, next)
	}

	sess.Status = next
	sess.LastActivity = a.clock.Now()

	payload := events.TableSessionUpdatedPayload{
		TableSessionID: sess.ID.String(),
		Status:         sess.Status,
		TotalAmount:    sess.TotalAmount,
		PaidAmount:     sess.PaidAmount,
		Timestamp:      a.clock.Now(),
	}
	evt, err := outbox.NewEvent(sess.ID, events.TypeTableSessionUpdated, payload)
	if err != nil {
		return nil, err
	}
	if err := a.repo.UpdateStatus(ctx, sess, evt); err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}

	log.Info().
		Str("table_session_id", sess.ID.String()).
		Str("status", string(next)).
		Msg("table session status updated")
	return sess, nil
}

var statusRank = map[models.TableSessionStatus]int{
	models.TableSessionStatusActive:         0,
	models.TableSessionStatusOrderingLocked: 1,
	models.TableSessionStatusPaymentPending: 2,
	models.TableSessionStatusClosed:         3,
}

func transitionAllowed(from, to models.TableSessionStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == models.TableSessionStatusOrderingLocked && to == models.TableSessionStatusActive {
		return true
	}
	return toRank > fromRank
}

func joinEvent(user *models.TableSessionUser) (outbox.Event, error) {
	payload := events.UserJoinedPayload{
		TableSessionID: user.TableSessionID.String(),
		GuestSessionID: user.GuestSessionID,
		UserName:       user.UserName,
		IsHost:         user.IsHost,
		JoinedAt:       user.CreatedAt,
	}
	return outbox.NewEvent(user.TableSessionID, events.TypeUserJoinedTableSession, payload)
}

func defaultName(name string, ordinal int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("Guest %d", ordinal)
}

func generateSessionCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
