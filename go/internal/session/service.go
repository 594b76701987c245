package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
	"github.com/tabsyteam/tabsy-core/go/internal/httpx"
)

// Service exposes the session registry over HTTP
type Service struct {
	app *App
}

func NewService(app *App) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the session endpoints on the mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/table-sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/v1/table-sessions/join", s.handleJoinSession)
	mux.HandleFunc("GET /api/v1/table-sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/v1/table-sessions/{id}/users", s.handleListParticipants)
	mux.HandleFunc("PATCH /api/v1/table-sessions/{id}/status", s.handleUpdateStatus)
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	resp, err := s.app.CreateSession(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, resp)
}

func (s *Service) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req JoinSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	resp, err := s.app.JoinSession(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, resp)
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	sess, err := s.app.GetTableSession(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, sess)
}

func (s *Service) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	users, err := s.app.ListParticipants(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, users)
}

func (s *Service) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req UpdateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	sess, err := s.app.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, sess)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid table session id")
	}
	return id, nil
}
