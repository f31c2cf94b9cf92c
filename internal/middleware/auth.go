package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dukerupert/tenantry/internal/auth"
)

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Authenticate resolves the request's identity and stores it in the request
// context. Unauthenticated requests pass through without one.
func Authenticate(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := a.Resolve(r); id != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests without a resolved identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.CurrentUser(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose true user is not an admin, so an
// impersonating admin keeps admin access.
func RequireAdmin(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.IsAdmin(auth.TrueUser(r.Context())) {
				writeError(w, http.StatusForbidden, "not authorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTeam authorizes the acting user against the {team_id} path value,
// or their default team when the route has none, and stores the result in
// the request context.
func RequireTeam(authz *auth.TeamAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var teamID *int64
			if raw := r.PathValue("team_id"); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					writeError(w, http.StatusForbidden, "not authorized")
					return
				}
				teamID = &id
			}

			tc, err := authz.RequireTeam(r.Context(), teamID)
			switch {
			case errors.Is(err, auth.ErrNoTenantSelected):
				writeError(w, http.StatusBadRequest, auth.PublicMessage(err))
				return
			case errors.Is(err, auth.ErrNotAuthorized):
				writeError(w, http.StatusForbidden, auth.PublicMessage(err))
				return
			case err != nil:
				writeError(w, http.StatusInternalServerError, auth.PublicMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithTeam(r.Context(), tc)))
		})
	}
}

// RequireTeamManager rejects members who cannot manage the team. It must
// run after RequireTeam.
func RequireTeamManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := auth.TeamFromContext(r.Context())
		if !ok || !tc.CanManageTeam() {
			writeError(w, http.StatusForbidden, "not authorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
