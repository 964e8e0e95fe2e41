package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/stormboard/internal/apperr"
	"github.com/starford/stormboard/internal/board"
)

// Handler holds API route handlers.
type Handler struct {
	engine *board.Engine
}

// NewHandler creates a new Handler.
func NewHandler(engine *board.Engine) *Handler {
	return &Handler{engine: engine}
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List the current session's notes, newest first
//	@Tags			notes
//	@Produce		json
//	@Param			active	query		bool	false	"Exclude merged notes"
//	@Success		200		{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes := h.engine.NotesSnapshot()
	if r.URL.Query().Get("active") == "true" {
		notes = h.engine.ActiveNotes()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": h.engine.CurrentSession(),
		"notes":   notes,
		"total":   len(notes),
	})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note by id
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	models.Note
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	note, err := h.engine.Note(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get note failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// ListSessions handles GET /api/sessions.
//
//	@Summary		List every brainstorm session
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.Sessions()
	if err != nil {
		slog.Error("list sessions failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"current":  h.engine.CurrentSession(),
	})
}

// SessionStats handles GET /api/sessions/{id}/stats.
//
//	@Summary		Dashboard counts for one session
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	models.SessionStats
//	@Security		BearerAuth
//	@Router			/sessions/{id}/stats [get]
func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, err := h.engine.SessionStats(id)
	if err != nil {
		slog.Error("session stats failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PendingUsers handles GET /api/users/pending.
//
//	@Summary		List registrations awaiting approval
//	@Tags			users
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/users/pending [get]
func (h *Handler) PendingUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.engine.PendingUsers()
	if err != nil {
		slog.Error("pending users failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
	})
}

// Timer handles GET /api/timer.
//
//	@Summary		Current brainstorm timer state
//	@Tags			timer
//	@Produce		json
//	@Success		200	{object}	models.TimerState
//	@Security		BearerAuth
//	@Router			/timer [get]
func (h *Handler) Timer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.TimerState())
}
