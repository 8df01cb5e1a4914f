package handler

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"worktracker/internal/logfields"
	"worktracker/internal/mattermost"
)

// PresenceSink consumes presence events.
type PresenceSink interface {
	HandlePresence(ev mattermost.PresenceEvent) bool
}

// PresenceHandler accepts presence changes pushed by sources other than the
// Mattermost websocket, such as a Discord gateway relay.
type PresenceHandler struct {
	sink  PresenceSink
	token string
}

// NewPresenceHandler creates the webhook handler. A non-empty token must be
// presented as a bearer token.
func NewPresenceHandler(sink PresenceSink, token string) *PresenceHandler {
	return &PresenceHandler{sink: sink, token: token}
}

type presenceRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
	Mobile bool   `json:"mobile"`
}

type presenceResponse struct {
	Accepted bool `json:"accepted"`
}

func (h *PresenceHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got := []byte(r.Header.Get("Authorization"))
	return subtle.ConstantTimeCompare(got, []byte("Bearer "+h.token)) == 1
}

func (h *PresenceHandler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Status = strings.TrimSpace(req.Status)
	if req.UserID == "" || req.Status == "" {
		http.Error(w, "user_id and status are required", http.StatusBadRequest)
		return
	}

	accepted := h.sink.HandlePresence(mattermost.PresenceEvent{UserID: req.UserID, Status: req.Status, Mobile: req.Mobile})
	slog.Debug("Presence webhook", logfields.User(req.UserID), logfields.RawStatus(req.Status), slog.Bool("accepted", accepted))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(presenceResponse{Accepted: accepted}); err != nil {
		slog.Error("Failed to encode response", logfields.Error(err))
	}
}

func (h *PresenceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/presence", h.HandlePresence)
}
