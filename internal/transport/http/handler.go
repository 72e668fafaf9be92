package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/session-service/internal/domain"
	"github.com/cwrk-planet/session-service/internal/session"
)

type Handler struct {
	registry *session.Registry
}

func NewHandler(registry *session.Registry) *Handler {
	return &Handler{registry: registry}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SessionResponse struct {
	ClassID          string    `json:"classId"`
	CreatedAt        time.Time `json:"createdAt"`
	ParticipantCount int       `json:"participantCount"`
}

// GET /classes/{id}/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "id")
	info, count, err := h.registry.RoomInfo(classID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		ClassID:          info.ClassID,
		CreatedAt:        info.CreatedAt,
		ParticipantCount: count,
	})
}

type ParticipantItem struct {
	UserID   string      `json:"userId"`
	Name     string      `json:"name"`
	Role     domain.Role `json:"role"`
	JoinedAt time.Time   `json:"joinedAt"`
}

// GET /classes/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "id")
	members := h.registry.Participants(classID)
	items := make([]ParticipantItem, 0, len(members))
	for _, p := range members {
		items = append(items, ParticipantItem{
			UserID:   p.UserID,
			Name:     p.Name,
			Role:     p.Role,
			JoinedAt: p.JoinedAt,
		})
	}
	writeJSON(w, http.StatusOK, items)
}
