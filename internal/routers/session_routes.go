package routers

import (
	"peerprep/proctoring/internal/handlers"

	"github.com/go-chi/chi/v5"
)

// SessionRoutes mounts the session API at /sessions and, for the browser
// client, at /api/sessions.
func SessionRoutes(router *chi.Mux, sessionHandler *handlers.SessionHandler) {
	routes := func(r chi.Router) {
		r.Post("/", sessionHandler.CreateSessionHandler)
		r.Get("/{id}", sessionHandler.GetSessionHandler)
		r.Post("/{id}/events", sessionHandler.AppendEventHandler)
		r.Put("/{id}/end", sessionHandler.EndSessionHandler)
		r.Put("/{id}/terminate", sessionHandler.TerminateSessionHandler)
		r.Get("/{id}/score", sessionHandler.GetLiveScoreHandler)
		r.Get("/{id}/live", sessionHandler.LiveFeedHandler)
	}
	router.Route("/sessions", routes)
	router.Route("/api/sessions", routes)
}
