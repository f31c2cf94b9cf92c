package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/store"
)

// AdminHandler serves impersonation and account lifecycle. Routes are
// expected behind middleware.RequireAdmin.
type AdminHandler struct {
	auth   *auth.Authenticator
	users  *store.UserStore
	logger *slog.Logger
}

func NewAdminHandler(a *auth.Authenticator, us *store.UserStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{auth: a, users: us, logger: logger}
}

func (h *AdminHandler) Impersonate(w http.ResponseWriter, r *http.Request) {
	targetID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	target, err := h.users.GetByID(targetID)
	if err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}

	id, _ := auth.FromContext(r.Context())
	if err := h.auth.Impersonate(w, r, id, target); err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      target,
		"true_user": id.TrueUser(),
	})
}

func (h *AdminHandler) StopImpersonating(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.StopImpersonating(w, r); err != nil {
		h.logger.Error("stop impersonating", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stop impersonating")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if u := auth.TrueUser(r.Context()); u != nil && u.ID == userID {
		writeError(w, http.StatusForbidden, "cannot deactivate yourself")
		return
	}
	user, err := h.users.GetByID(userID)
	if err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.auth.Deactivate(userID); err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	user, err := h.users.Reactivate(userID)
	if err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Delete removes a user account outright.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if u := auth.TrueUser(r.Context()); u != nil && u.ID == userID {
		writeError(w, http.StatusForbidden, "cannot delete yourself")
		return
	}
	user, err := h.users.GetByID(userID)
	if err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.auth.DeleteUser(userID); err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
