package split

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
	"github.com/tabsyteam/tabsy-core/go/internal/httpx"
	"github.com/tabsyteam/tabsy-core/go/internal/models"
)

// Service exposes the split engine over HTTP
type Service struct {
	app *App
}

func NewService(app *App) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the split endpoints on the mux
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/table-sessions/{id}/split-calculation", s.handleGetSplitCalculation)
	mux.HandleFunc("POST /api/v1/table-sessions/{id}/split-calculation", s.handleChangeSplitType)
	mux.HandleFunc("PATCH /api/v1/table-sessions/{id}/split-calculation/{userId}", s.handleUpdateUserField)
	mux.HandleFunc("POST /api/v1/table-sessions/{id}/split-calculation/lock", s.handleAcquireLock)
	mux.HandleFunc("DELETE /api/v1/table-sessions/{id}/split-calculation/lock", s.handleReleaseLock)
	mux.HandleFunc("GET /api/v1/table-sessions/{id}/bill", s.handleGetBill)
}

func (s *Service) handleGetSplitCalculation(w http.ResponseWriter, r *http.Request) {
	tableSessionID, err := pathSessionID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	calc, err := s.app.LoadSplitCalculation(r.Context(), tableSessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, calc)
}

func (s *Service) handleChangeSplitType(w http.ResponseWriter, r *http.Request) {
	tableSessionID, guestID, err := pathSessionAndGuest(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req ChangeSplitTypeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	calc, err := s.app.ChangeSplitType(r.Context(), tableSessionID, guestID, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, calc)
}

// handleUpdateUserField applies a single-field update: a percentage, a
// fixed amount, or one or more item assignments
func (s *Service) handleUpdateUserField(w http.ResponseWriter, r *http.Request) {
	tableSessionID, guestID, err := pathSessionAndGuest(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	userID := r.PathValue("userId")
	if userID == "" {
		httpx.WriteError(w, apperr.Validation("user id is required"))
		return
	}

	var req UpdateUserFieldRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var calc *models.SplitCalculation
	switch {
	case req.Percentage != nil:
		calc, err = s.app.UpdateUserPercentage(r.Context(), tableSessionID, guestID, userID, *req.Percentage)
	case req.Amount != nil:
		calc, err = s.app.UpdateUserAmount(r.Context(), tableSessionID, guestID, userID, *req.Amount)
	case len(req.ItemAssignments) > 0:
		calc, err = s.app.UpdateItemAssignments(r.Context(), tableSessionID, guestID, req.ItemAssignments)
	default:
		err = apperr.Validation("one of percentage, amount or item_assignments is required")
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, calc)
}

func (s *Service) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	tableSessionID, guestID, err := pathSessionAndGuest(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := s.app.AcquireEditLock(r.Context(), tableSessionID, guestID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]string{"locked_by": guestID})
}

func (s *Service) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	tableSessionID, guestID, err := pathSessionAndGuest(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := s.app.ReleaseEditLock(r.Context(), tableSessionID, guestID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]string{"released_by": guestID})
}

func (s *Service) handleGetBill(w http.ResponseWriter, r *http.Request) {
	tableSessionID, err := pathSessionID(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	bill, err := s.app.GetBill(r.Context(), tableSessionID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, bill)
}

func pathSessionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid table session id")
	}
	return id, nil
}

func pathSessionAndGuest(r *http.Request) (uuid.UUID, string, error) {
	tableSessionID, err := pathSessionID(r)
	if err != nil {
		return uuid.Nil, "", err
	}
	guestID, err := httpx.GuestID(r)
	if err != nil {
		return uuid.Nil, "", err
	}
	return tableSessionID, guestID, nil
}
