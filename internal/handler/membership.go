package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/model"
	"github.com/dukerupert/tenantry/internal/store"
	"github.com/dukerupert/tenantry/internal/websocket"
)

// MembershipHandler serves a team's membership settings. Routes run behind
// middleware.RequireTeam, and mutations behind RequireTeamManager.
type MembershipHandler struct {
	teams  *store.TeamStore
	users  *store.UserStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewMembershipHandler(ts *store.TeamStore, us *store.UserStore, hub *websocket.Hub, logger *slog.Logger) *MembershipHandler {
	return &MembershipHandler{teams: ts, users: us, hub: hub, logger: logger}
}

func (h *MembershipHandler) List(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.TeamFromContext(r.Context())

	members, err := h.teams.ListMembers(tc.Team.ID)
	if err != nil {
		h.logger.Error("list members", "team_id", tc.Team.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list memberships")
		return
	}
	if members == nil {
		members = []store.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// Create adds an existing user to the team by email address.
func (h *MembershipHandler) Create(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.TeamFromContext(r.Context())

	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	role := model.RoleMember
	if req.Role != "" {
		parsed, err := model.ParseRole(req.Role)
		if err != nil || parsed == model.RoleOwner {
			writeError(w, http.StatusUnprocessableEntity, "role must be member or admin")
			return
		}
		role = parsed
	}

	user, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("get user by email", "team_id", tc.Team.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	if user == nil || !user.Active() {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	m, err := h.teams.AddMember(tc.Team.ID, user.ID, role, model.MembershipActive)
	if errors.Is(err, store.ErrAlreadyMember) {
		writeError(w, http.StatusConflict, "already a member")
		return
	}
	if err != nil {
		h.logger.Error("add member", "team_id", tc.Team.ID, "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}

	h.logger.Info("membership added", "team_id", tc.Team.ID, "id", m.ID, "user_id", user.ID, "by", tc.User.ID)
	h.hub.BroadcastTeam(tc.Team.ID, websocket.NewMessage("membership", "added", m.ID, map[string]any{
		"user_id": m.UserID,
		"role":    m.Role,
	}))
	writeJSON(w, http.StatusCreated, m)
}

// loadTarget fetches the {id} membership of the team in context. It writes
// the error response and returns nil when there is nothing to act on.
func (h *MembershipHandler) loadTarget(w http.ResponseWriter, r *http.Request) (*auth.TeamContext, *model.Membership) {
	tc, _ := auth.TeamFromContext(r.Context())

	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, nil
	}
	m, err := h.teams.GetMembershipByID(tc.Team.ID, id)
	if err != nil {
		h.logger.Error("get membership", "team_id", tc.Team.ID, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get membership")
		return nil, nil
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "membership not found")
		return nil, nil
	}
	if m.Owner() {
		writeError(w, http.StatusForbidden, "the owner membership cannot be changed")
		return nil, nil
	}
	return tc, m
}

func (h *MembershipHandler) Update(w http.ResponseWriter, r *http.Request) {
	tc, m := h.loadTarget(w, r)
	if m == nil {
		return
	}

	var req struct {
		Role   string `json:"role"`
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	role, status := m.Role, m.Status
	if req.Role != "" {
		parsed, err := model.ParseRole(req.Role)
		if err != nil || parsed == model.RoleOwner {
			writeError(w, http.StatusUnprocessableEntity, "role must be member or admin")
			return
		}
		role = parsed
	}
	if req.Status != "" {
		parsed, err := model.ParseMembershipStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "status must be active, invited or disabled")
			return
		}
		status = parsed
	}
	if m.UserID == tc.User.ID && (role != m.Role || status != m.Status) {
		writeError(w, http.StatusForbidden, "cannot change your own membership")
		return
	}

	updated, err := h.teams.UpdateMembership(tc.Team.ID, m.ID, role, status)
	if err != nil {
		h.logger.Error("update membership", "team_id", tc.Team.ID, "id", m.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update membership")
		return
	}

	h.logger.Info("membership updated", "team_id", tc.Team.ID, "id", m.ID, "role", updated.Role, "status", updated.Status, "by", tc.User.ID)
	h.hub.BroadcastTeam(tc.Team.ID, websocket.NewMessage("membership", "updated", updated.ID, map[string]any{
		"user_id": updated.UserID,
		"role":    updated.Role,
		"status":  updated.Status,
	}))
	writeJSON(w, http.StatusOK, updated)
}

func (h *MembershipHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tc, m := h.loadTarget(w, r)
	if m == nil {
		return
	}
	if m.UserID == tc.User.ID {
		writeError(w, http.StatusForbidden, "cannot remove yourself")
		return
	}

	if err := h.teams.RemoveMembership(tc.Team.ID, m.ID); err != nil {
		h.logger.Error("remove membership", "team_id", tc.Team.ID, "id", m.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove membership")
		return
	}

	h.logger.Info("membership removed", "team_id", tc.Team.ID, "id", m.ID, "by", tc.User.ID)
	h.hub.BroadcastTeam(tc.Team.ID, websocket.NewMessage("membership", "removed", m.ID, map[string]any{
		"user_id": m.UserID,
	}))
	w.WriteHeader(http.StatusNoContent)
}
