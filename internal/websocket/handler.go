package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/model"
)

// TeamLister lists the teams a user is an active member of.
type TeamLister interface {
	ListTeamsForUser(userID int64) ([]model.Team, error)
}

// HandleWebSocket returns an HTTP handler that upgrades authenticated
// requests to WebSocket and runs them as Hub clients bound to the
// request's session and the acting user's teams.
func HandleWebSocket(hub *Hub, teams TeamLister, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || id.Session == nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		list, err := teams.ListTeamsForUser(id.User().ID)
		if err != nil {
			logger.Error("list teams for websocket", "user_id", id.User().ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		teamIDs := make([]int64, 0, len(list))
		for _, t := range list {
			teamIDs = append(teamIDs, t.ID)
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn, id.Session.ID, id.User().ID, teamIDs)
		client.Run(r.Context())
	}
}
