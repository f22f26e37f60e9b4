package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"studytrack-backend/internal/feed"
	"studytrack-backend/internal/services"
)

// AdminHandler serves the cross-user session views (admin and superadmin)
// and the superadmin user-management actions. Route-level role middleware
// has already gated access before these run.
type AdminHandler struct {
	feed     *feed.Feed
	identity feed.IdentityLookup
	admin    *services.AdminService
}

func NewAdminHandler(f *feed.Feed, identity feed.IdentityLookup, admin *services.AdminService) *AdminHandler {
	return &AdminHandler{feed: f, identity: identity, admin: admin}
}

// Sessions returns every user's sessions grouped by owner, most recently
// active user first.
func (h *AdminHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	snap, err := h.feed.BuildSnapshot(r.Context(), feed.Scope{All: true})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load sessions", r))
		return
	}

	groups := feed.NewAggregator(h.identity).Group(r.Context(), snap)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": groups,
	})
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.ListUsers(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
	})
}

func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid user ID", r))
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	user, err := h.admin.SetRole(r.Context(), userID, req.Role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": user,
	})
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid user ID", r))
		return
	}

	if err := h.admin.DeleteUser(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}
