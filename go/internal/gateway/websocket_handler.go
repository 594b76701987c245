package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tabsyteam/tabsy-core/go/internal/session"
)

// TokenVerifier validates a guest session token on subscribe
type TokenVerifier interface {
	Verify(token string) (*session.GuestClaims, error)
}

// WebSocketHandler handles WebSocket upgrade requests for session rooms
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	tokens            TokenVerifier
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, tokens TokenVerifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		tokens:            tokens,
	}
}

// HandleSessionConnection subscribes a guest device to its session room.
// The token must have been issued for the requested table session.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	tableSessionIDStr := r.URL.Query().Get("table_session_id")
	if tableSessionIDStr == "" {
		http.Error(w, "table_session_id is required", http.StatusBadRequest)
		return
	}

	tableSessionID, err := uuid.Parse(tableSessionIDStr)
	if err != nil {
		http.Error(w, "invalid table_session_id format", http.StatusBadRequest)
		return
	}

	claims, err := h.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid or expired session token", http.StatusUnauthorized)
		return
	}
	if claims.TableSessionID != tableSessionID.String() {
		http.Error(w, "token was not issued for this session", http.StatusForbidden)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, claims.GuestSessionID, tableSessionID); err != nil {
		log.Error().
			Err(err).
			Str("table_session_id", tableSessionID.String()).
			Str("guest_session_id", claims.GuestSessionID).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleSessionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
