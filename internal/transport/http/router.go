package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"

	"github.com/cwrk-planet/session-service/internal/transport/ws"
)

func NewRouter(h *Handler, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)

	// Signaling endpoint; everything session-related happens over it.
	r.Get("/ws", wsServer.HandleWS)

	// Live-session introspection, read-only.
	r.Route("/classes/{id}", func(cr chi.Router) {
		cr.Get("/session", h.GetSession)
		cr.Get("/participants", h.GetParticipants)
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
