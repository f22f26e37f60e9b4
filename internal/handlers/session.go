package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"studytrack-backend/internal/feed"
	"studytrack-backend/internal/middleware"
	"studytrack-backend/internal/models"
	"studytrack-backend/internal/services"
)

type SessionHandler struct {
	svc  *services.SessionService
	feed *feed.Feed
}

func NewSessionHandler(svc *services.SessionService, f *feed.Feed) *SessionHandler {
	return &SessionHandler{svc: svc, feed: f}
}

// List returns the caller's current snapshot: the open session if any, plus
// the closed-session log newest first. Same shape as one websocket delivery.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	snap, err := h.feed.BuildSnapshot(r.Context(), feed.Scope{UserID: userID})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load sessions", r))
		return
	}

	closed := make([]feed.SessionView, 0, len(snap.Closed))
	for _, s := range snap.Closed {
		closed = append(closed, feed.NewSessionView(s))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"open_session":    snap.OpenFor(userID),
		"closed_sessions": closed,
	})
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	session, err := h.svc.Start(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session": session,
	})
}

func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.svc.Pause)
}

func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.svc.Resume)
}

func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.svc.Stop)
}

func (h *SessionHandler) command(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error),
) {
	userID := middleware.GetUserID(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	session, err := apply(r.Context(), userID, sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
	})
}
