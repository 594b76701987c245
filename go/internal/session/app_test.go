package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
	"github.com/tabsyteam/tabsy-core/go/internal/events"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
	"github.com/tabsyteam/tabsy-core/go/internal/outbox"
)

type fakeRepo struct {
	sessions map[uuid.UUID]*models.TableSession
	users    map[uuid.UUID][]models.TableSessionUser
	events   []outbox.Event
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[uuid.UUID]*models.TableSession),
		users:    make(map[uuid.UUID][]models.TableSessionUser),
	}
}

func (r *fakeRepo) CreateSession(_ context.Context, sess *models.TableSession, host *models.TableSessionUser, evt outbox.Event) error {
	r.sessions[sess.ID] = sess
	r.users[sess.ID] = append(r.users[sess.ID], *host)
	r.events = append(r.events, evt)
	return nil
}

func (r *fakeRepo) GetTableSession(_ context.Context, id uuid.UUID) (*models.TableSession, error) {
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

func (r *fakeRepo) GetActiveSessionForTable(_ context.Context, tableID uuid.UUID) (*models.TableSession, error) {
	for _, sess := range r.sessions {
		if sess.TableID == tableID && sess.Status != models.TableSessionStatusClosed {
			clone := *sess
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) GetSessionByCode(_ context.Context, code string) (*models.TableSession, error) {
	for _, sess := range r.sessions {
		if sess.SessionCode == code {
			clone := *sess
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) AddParticipant(_ context.Context, user *models.TableSessionUser, evt outbox.Event) error {
	r.users[user.TableSessionID] = append(r.users[user.TableSessionID], *user)
	r.events = append(r.events, evt)
	return nil
}

func (r *fakeRepo) ListParticipants(_ context.Context, tableSessionID uuid.UUID) ([]models.TableSessionUser, error) {
	return r.users[tableSessionID], nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, sess *models.TableSession, evt outbox.Event) error {
	stored, ok := r.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = sess.Status
	stored.LastActivity = sess.LastActivity
	r.events = append(r.events, evt)
	return nil
}

func (r *fakeRepo) TouchActivity(_ context.Context, tableSessionID uuid.UUID, guestSessionID string, at time.Time) error {
	return nil
}

func newTestApp(t *testing.T) (*App, *fakeRepo, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	repo := newFakeRepo()
	tokens := NewTokenManager("test-secret", time.Hour, clock)
	return NewApp(repo, tokens, clock, DefaultSessionTTL), repo, clock
}

func TestCreateSessionFirstCallerIsHost(t *testing.T) {
	app, repo, _ := newTestApp(t)

	resp, err := app.CreateSession(context.Background(), CreateSessionRequest{
		TableID:      uuid.New(),
		RestaurantID: uuid.New(),
		UserName:     "Alice",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if len(resp.SessionCode) != codeLength {
		t.Errorf("session code = %q, want %d chars", resp.SessionCode, codeLength)
	}
	if resp.Token == "" {
		t.Error("expected a session token")
	}

	users := repo.users[resp.TableSessionID]
	if len(users) != 1 || !users[0].IsHost {
		t.Fatalf("users = %+v, want exactly one host", users)
	}
	if len(repo.events) != 1 || repo.events[0].EventType != events.TypeUserJoinedTableSession {
		t.Errorf("events = %+v, want one join event", repo.events)
	}
}

func TestCreateSessionConflictsWithActiveSession(t *testing.T) {
	app, _, _ := newTestApp(t)
	tableID := uuid.New()

	req := CreateSessionRequest{TableID: tableID, RestaurantID: uuid.New(), UserName: "Alice"}
	if _, err := app.CreateSession(context.Background(), req); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := app.CreateSession(context.Background(), req)
	if apperr.CodeOf(err) != apperr.CodeConflict {
		t.Fatalf("second create err = %v, want CONFLICT", err)
	}
}

func TestJoinSessionByCode(t *testing.T) {
	app, repo, _ := newTestApp(t)

	created, err := app.CreateSession(context.Background(), CreateSessionRequest{
		TableID:      uuid.New(),
		RestaurantID: uuid.New(),
		UserName:     "Alice",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	joined, err := app.JoinSession(context.Background(), JoinSessionRequest{
		SessionCode: created.SessionCode,
		UserName:    "Bob",
	})
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if joined.TableSessionID != created.TableSessionID {
		t.Errorf("joined session = %s, want %s", joined.TableSessionID, created.TableSessionID)
	}
	if joined.GuestSessionID == created.GuestSessionID {
		t.Error("joiner must get a distinct guest session id")
	}
	if len(repo.users[created.TableSessionID]) != 2 {
		t.Errorf("participants = %d, want 2", len(repo.users[created.TableSessionID]))
	}
}

func TestJoinSessionUnknownCode(t *testing.T) {
	app, _, _ := newTestApp(t)

	_, err := app.JoinSession(context.Background(), JoinSessionRequest{SessionCode: "NOPE42"})
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestJoinSessionExpiredCode(t *testing.T) {
	app, _, clock := newTestApp(t)

	created, err := app.CreateSession(context.Background(), CreateSessionRequest{
		TableID:      uuid.New(),
		RestaurantID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	clock.Advance(DefaultSessionTTL + time.Minute)
	_, err = app.JoinSession(context.Background(), JoinSessionRequest{SessionCode: created.SessionCode})
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Fatalf("err = %v, want NOT_FOUND for expired code", err)
	}
}

func TestJoinSessionClosed(t *testing.T) {
	app, repo, _ := newTestApp(t)

	created, err := app.CreateSession(context.Background(), CreateSessionRequest{
		TableID:      uuid.New(),
		RestaurantID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	repo.sessions[created.TableSessionID].Status = models.TableSessionStatusClosed

	_, err = app.JoinSession(context.Background(), JoinSessionRequest{SessionCode: created.SessionCode})
	if apperr.CodeOf(err) != apperr.CodeConflict {
		t.Fatalf("err = %v, want CONFLICT for closed session", err)
	}
}

func TestGetTableSessionClosesExpired(t *testing.T) {
	app, repo, clock := newTestApp(t)

	created, err := app.CreateSession(context.Background(), CreateSessionRequest{
		TableID:      uuid.New(),
		RestaurantID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	clock.Advance(DefaultSessionTTL + time.Minute)
	sess, err := app.GetTableSession(context.Background(), created.TableSessionID)
	if err != nil {
		t.Fatalf("GetTableSession: %v", err)
	}
	if sess.Status != models.TableSessionStatusClosed {
		t.Errorf("status = %s, want CLOSED after expiry", sess.Status)
	}
	if repo.sessions[created.TableSessionID].Status != models.TableSessionStatusClosed {
		t.Error("expired session close was not persisted")
	}

	last := repo.events[len(repo.events)-1]
	if last.EventType != events.TypeTableSessionUpdated {
		t.Errorf("last event = %s, want %s", last.EventType, events.TypeTableSessionUpdated)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    models.TableSessionStatus
		to      models.TableSessionStatus
		allowed bool
	}{
		{models.TableSessionStatusActive, models.TableSessionStatusOrderingLocked, true},
		{models.TableSessionStatusOrderingLocked, models.TableSessionStatusPaymentPending, true},
		{models.TableSessionStatusPaymentPending, models.TableSessionStatusClosed, true},
		{models.TableSessionStatusActive, models.TableSessionStatusClosed, true},
		{models.TableSessionStatusOrderingLocked, models.TableSessionStatusActive, true}, // explicit unlock
		{models.TableSessionStatusPaymentPending, models.TableSessionStatusActive, false},
		{models.TableSessionStatusClosed, models.TableSessionStatusActive, false},
		{models.TableSessionStatusClosed, models.TableSessionStatusPaymentPending, false},
	}
	for _, tt := range tests {
		if got := transitionAllowed(tt.from, tt.to); got != tt.allowed {
			t.Errorf("transition %s -> %s = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestUpdateStatusBroadcasts(t *testing.T) {
	app, repo, _ := newTestApp(t)

	created, err := app.CreateSession(context.Background(), CreateSessionRequest{
		TableID:      uuid.New(),
		RestaurantID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, err := app.UpdateStatus(context.Background(), created.TableSessionID, models.TableSessionStatusOrderingLocked)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if sess.Status != models.TableSessionStatusOrderingLocked {
		t.Errorf("status = %s", sess.Status)
	}

	last := repo.events[len(repo.events)-1]
	if last.EventType != events.TypeTableSessionUpdated {
		t.Errorf("last event = %s, want %s", last.EventType, events.TypeTableSessionUpdated)
	}

	_, err = app.UpdateStatus(context.Background(), created.TableSessionID, models.TableSessionStatusOrderingLocked)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("same-status transition err = %v, want VALIDATION_ERROR", err)
	}
}
