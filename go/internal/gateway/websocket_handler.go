package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for poll sessions
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	feedStats         func() any
}

func NewWebSocketHandler(cm *ConnectionManager, feedStats func() any) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		feedStats:         feedStats,
	}
}

// HandleSession upgrades the request. The upgrader has already replied on failure.
func (h *WebSocketHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	body := struct {
		ConnectionStats
		Feed any `json:"feed,omitempty"`
	}{ConnectionStats: h.connectionManager.GetConnectionStats()}
	if h.feedStats != nil {
		body.Feed = h.feedStats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSession)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
