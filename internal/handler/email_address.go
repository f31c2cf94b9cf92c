package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/tenantry/internal/auth"
)

type EmailAddressHandler struct {
	changer *auth.EmailChanger
	logger  *slog.Logger
}

func NewEmailAddressHandler(c *auth.EmailChanger, logger *slog.Logger) *EmailAddressHandler {
	return &EmailAddressHandler{changer: c, logger: logger}
}

// Create sends a confirmation link for a new address to that address.
func (h *EmailAddressHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.changer.RequestChange(r.Context(), auth.CurrentUser(r.Context()), req.Email); err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "confirmation sent"})
}

// Show reports the change a confirmation token would apply. Only the user
// the token was issued to may see it.
func (h *EmailAddressHandler) Show(w http.ResponseWriter, r *http.Request) {
	change, err := h.changer.Verify(r.Context(), auth.CurrentUser(r.Context()), r.PathValue("token"))
	if err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"old_email": change.OldEmail,
		"new_email": change.NewEmail,
	})
}

// Confirm applies the change for the signed-in user the token names.
func (h *EmailAddressHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	user, err := h.changer.ConfirmChange(r.Context(), auth.CurrentUser(r.Context()), r.PathValue("token"))
	if err != nil {
		writeAuthError(w, h.logger, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
