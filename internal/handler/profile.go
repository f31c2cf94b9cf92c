package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/store"
)

const maxNameLength = 100

type ProfileHandler struct {
	users  *store.UserStore
	logger *slog.Logger
}

func NewProfileHandler(us *store.UserStore, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{users: us, logger: logger}
}

// Update renames the acting user.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if len(name) > maxNameLength {
		writeError(w, http.StatusUnprocessableEntity, "name is too long")
		return
	}

	current := auth.CurrentUser(r.Context())
	user, err := h.users.UpdateName(current.ID, name)
	if err != nil {
		h.logger.Error("update profile", "user_id", current.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
