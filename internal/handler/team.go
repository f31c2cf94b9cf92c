package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/model"
	"github.com/dukerupert/tenantry/internal/store"
	"github.com/dukerupert/tenantry/internal/websocket"
)

// TeamHandler creates shared teams and serves their general settings.
type TeamHandler struct {
	teams  *store.TeamStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewTeamHandler(ts *store.TeamStore, hub *websocket.Hub, logger *slog.Logger) *TeamHandler {
	return &TeamHandler{teams: ts, hub: hub, logger: logger}
}

// teamName reads and validates {"name": ...}. It writes the error response
// and returns "" when the body is unusable.
func teamName(w http.ResponseWriter, r *http.Request) string {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return ""
	}
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return ""
	case len(name) > maxNameLength:
		writeError(w, http.StatusUnprocessableEntity, "name is too long")
		return ""
	}
	return name
}

// Create makes a shared team owned by the acting user.
func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	name := teamName(w, r)
	if name == "" {
		return
	}

	user := auth.CurrentUser(r.Context())
	team, err := h.teams.CreateWithOwner(name, model.TeamKindShared, user.ID)
	if err != nil {
		h.logger.Error("create team", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create team")
		return
	}
	h.logger.Info("team created", "team_id", team.ID, "owner_id", user.ID)
	writeJSON(w, http.StatusCreated, team)
}

// Update renames the team in context. Runs behind RequireTeamManager.
func (h *TeamHandler) Update(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.TeamFromContext(r.Context())
	name := teamName(w, r)
	if name == "" {
		return
	}

	team, err := h.teams.Update(tc.Team.ID, name)
	if err != nil {
		h.logger.Error("update team", "team_id", tc.Team.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update team")
		return
	}

	h.hub.BroadcastTeam(team.ID, websocket.NewMessage("team", "updated", team.ID, map[string]any{
		"name": team.Name,
	}))
	writeJSON(w, http.StatusOK, team)
}

// Delete removes a shared team. Only its owner may do so, and personal
// teams live as long as their user.
func (h *TeamHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.TeamFromContext(r.Context())
	if !tc.Membership.Owner() {
		writeError(w, http.StatusForbidden, "only the owner can delete a team")
		return
	}
	if tc.Team.Kind == model.TeamKindPersonal {
		writeError(w, http.StatusForbidden, "personal teams cannot be deleted")
		return
	}

	if err := h.teams.Delete(tc.Team.ID); err != nil {
		h.logger.Error("delete team", "team_id", tc.Team.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete team")
		return
	}

	h.logger.Info("team deleted", "team_id", tc.Team.ID, "by", tc.User.ID)
	h.hub.BroadcastTeam(tc.Team.ID, websocket.NewMessage("team", "deleted", tc.Team.ID, nil))
	w.WriteHeader(http.StatusNoContent)
}
