package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/stormboard/internal/board"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(engine *board.Engine, authEnabled bool, token string) chi.Router {
	h := NewHandler(engine)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/notes", h.ListNotes)
	r.Get("/notes/{id}", h.GetNote)

	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}/stats", h.SessionStats)

	r.Get("/users/pending", h.PendingUsers)

	r.Get("/timer", h.Timer)

	return r
}
