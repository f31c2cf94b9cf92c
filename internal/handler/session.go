package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/model"
	"github.com/dukerupert/tenantry/internal/store"
)

// MagicLinkCodeHeader carries the issued code back to the client in
// development so sign-in works without a mail server.
const MagicLinkCodeHeader = "X-Magic-Link-Code"

type SessionHandler struct {
	auth   *auth.Authenticator
	teams  *store.TeamStore
	dev    bool
	logger *slog.Logger
}

func NewSessionHandler(a *auth.Authenticator, ts *store.TeamStore, dev bool, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{auth: a, teams: ts, dev: dev, logger: logger}
}

// Create requests a sign-in code. The response is the same whether or not
// the address has an account.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ml, err := h.auth.RequestCode(r.Context(), w, r, req.Email)
	if err != nil {
		writeAuthError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	if h.dev && ml != nil {
		w.Header().Set(MagicLinkCodeHeader, ml.Code)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "check your email"})
}

// SubmitCode exchanges a code for a session.
func (h *SessionHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	sess, user, err := h.auth.SubmitCode(w, r, req.Code)
	if err != nil {
		writeAuthError(w, h.logger, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"user":       user,
	})
}

// Destroy signs out the current session.
func (h *SessionHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	if err := h.auth.Terminate(w, r, id); err != nil {
		h.logger.Error("terminate session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DestroyAll signs the user out of every session.
func (h *SessionHandler) DestroyAll(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	if err := h.auth.TerminateAll(w, r, id); err != nil {
		h.logger.Error("terminate all sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me describes the current identity and the acting user's teams.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	user := id.User()

	teams, err := h.teams.ListTeamsForUser(user.ID)
	if err != nil {
		h.logger.Error("list teams", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list teams")
		return
	}
	if teams == nil {
		teams = []model.Team{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":          user,
		"true_user":     id.TrueUser(),
		"impersonating": id.IsImpersonating(),
		"admin":         h.auth.IsAdmin(id.TrueUser()),
		"teams":         teams,
	})
}
