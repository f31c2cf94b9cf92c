package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/handler"
	"github.com/dukerupert/tenantry/internal/middleware"
	"github.com/dukerupert/tenantry/internal/ratelimit"
	"github.com/dukerupert/tenantry/internal/store"
	ws "github.com/dukerupert/tenantry/internal/websocket"
)

// Sign-in rate limits. Code submission is limited both per client IP and
// per pending email address.
const (
	requestCodeMax    = 10
	requestCodeWindow = 3 * time.Minute
	submitCodeMax     = 10
	submitCodeWindow  = 15 * time.Minute
)

type Options struct {
	Development    bool
	BaseURL        string
	SecureCookies  bool
	AdminEmails    []string
	SignupsEnabled bool
	CodeTTL        time.Duration
	EmailChangeTTL time.Duration
	// OriginPatterns are extra hosts allowed to open websockets.
	OriginPatterns []string
	// TrustedProxies may report the client address in forwarding headers.
	TrustedProxies middleware.TrustedProxies
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	authn       *auth.Authenticator
	authz       *auth.TeamAuthorizer
	sessionH    *handler.SessionHandler
	emailH      *handler.EmailAddressHandler
	adminH      *handler.AdminHandler
	profileH    *handler.ProfileHandler
	teamH       *handler.TeamHandler
	membershipH *handler.MembershipHandler
	teamStore   *store.TeamStore
	magicLinks  *store.MagicLinkStore
	counter     ratelimit.Counter
	requestCode *ratelimit.Limiter
	submitCode  *ratelimit.Limiter
	submitEmail *ratelimit.Limiter
	proxies     middleware.TrustedProxies
	origins     []string
	logger      *slog.Logger
}

func New(db *sql.DB, keys *auth.KeyGenerator, counter ratelimit.Counter, notifier auth.Notifier, opts Options, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	teamStore := store.NewTeamStore(db)
	sessionStore := store.NewSessionStore(db)
	magicLinkStore := store.NewMagicLinkStore(db)

	authn := auth.NewAuthenticator(
		userStore,
		sessionStore,
		magicLinkStore,
		auth.NewCookieJar(keys, opts.SecureCookies),
		auth.NewAppStore(keys, opts.SecureCookies),
		notifier,
		auth.Options{
			AdminEmails:    opts.AdminEmails,
			SignupsEnabled: opts.SignupsEnabled,
			CodeTTL:        opts.CodeTTL,
			ClientIP:       opts.TrustedProxies.RealIP,
		},
		logger.With("component", "auth"),
	)
	authn.SetRevoker(hub)

	changer := auth.NewEmailChanger(userStore, auth.NewTokenIssuer(keys), notifier, opts.BaseURL, opts.EmailChangeTTL, logger.With("component", "email_change"))
	limitLogger := logger.With("component", "ratelimit")

	return &Server{
		db:          db,
		hub:         hub,
		authn:       authn,
		authz:       auth.NewTeamAuthorizer(teamStore),
		sessionH:    handler.NewSessionHandler(authn, teamStore, opts.Development, logger.With("component", "session")),
		emailH:      handler.NewEmailAddressHandler(changer, logger.With("component", "email_change")),
		adminH:      handler.NewAdminHandler(authn, userStore, logger.With("component", "admin")),
		profileH:    handler.NewProfileHandler(userStore, logger.With("component", "profile")),
		teamH:       handler.NewTeamHandler(teamStore, hub, logger.With("component", "team")),
		membershipH: handler.NewMembershipHandler(teamStore, userStore, hub, logger.With("component", "membership")),
		teamStore:   teamStore,
		magicLinks:  magicLinkStore,
		counter:     counter,
		requestCode: &ratelimit.Limiter{
			Name:    "request_code",
			Counter: counter,
			Max:     requestCodeMax,
			Window:  requestCodeWindow,
			Logger:  limitLogger,
		},
		submitCode: &ratelimit.Limiter{
			Name:    "submit_code",
			Counter: counter,
			Max:     submitCodeMax,
			Window:  submitCodeWindow,
			Logger:  limitLogger,
		},
		submitEmail: &ratelimit.Limiter{
			Name:    "submit_code_email",
			Counter: counter,
			Max:     submitCodeMax,
			Window:  submitCodeWindow,
			Logger:  limitLogger,
		},
		proxies: opts.TrustedProxies,
		origins: opts.OriginPatterns,
		logger:  logger,
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Authenticator returns the authenticator for administrative tasks.
func (s *Server) Authenticator() *auth.Authenticator {
	return s.authn
}

// Cleanup removes expired magic links and, for the in-memory counter,
// elapsed rate-limit windows.
func (s *Server) Cleanup() {
	n, err := s.magicLinks.Cleanup()
	if err != nil {
		s.logger.Error("cleanup magic links", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up magic links", "count", n)
	}

	if mc, ok := s.counter.(*ratelimit.MemoryCounter); ok {
		if n := mc.Cleanup(); n > 0 {
			s.logger.Debug("cleaned up rate limit windows", "count", n)
		}
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	byIP := s.proxies.RealIP
	byPendingEmail := s.authn.PendingEmail
	requireAuth := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(h)
	}
	requireAdmin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(middleware.RequireAdmin(s.authn)(h))
	}
	requireTeam := func(h http.Handler) http.Handler {
		return middleware.RequireAuth(middleware.RequireTeam(s.authz)(h))
	}

	mux.HandleFunc("GET /health", s.healthHandler)

	// Sign in and out
	mux.Handle("POST /session", middleware.RateLimit(s.requestCode, byIP)(http.HandlerFunc(s.sessionH.Create)))
	mux.Handle("POST /session/magic_link", middleware.RateLimit(s.submitCode, byIP)(
		middleware.RateLimit(s.submitEmail, byPendingEmail)(http.HandlerFunc(s.sessionH.SubmitCode))))
	mux.Handle("DELETE /session", requireAuth(s.sessionH.Destroy))
	mux.Handle("DELETE /sessions", requireAuth(s.sessionH.DestroyAll))
	mux.Handle("GET /me", requireAuth(s.sessionH.Me))
	mux.Handle("PATCH /profile", requireAuth(s.profileH.Update))

	// Email change
	mux.Handle("POST /users/email_addresses", requireAuth(s.emailH.Create))
	mux.Handle("GET /users/email_addresses/{token}/confirmation", requireAuth(s.emailH.Show))
	mux.Handle("POST /users/email_addresses/{token}/confirmation", requireAuth(s.emailH.Confirm))

	// Administration
	mux.Handle("POST /impersonate/{id}", requireAdmin(s.adminH.Impersonate))
	mux.Handle("POST /stop_impersonating", requireAuth(s.adminH.StopImpersonating))
	mux.Handle("POST /admin/users/{id}/deactivate", requireAdmin(s.adminH.Deactivate))
	mux.Handle("POST /admin/users/{id}/reactivate", requireAdmin(s.adminH.Reactivate))
	mux.Handle("DELETE /admin/users/{id}", requireAdmin(s.adminH.Delete))

	// Teams
	requireManager := func(h http.HandlerFunc) http.Handler {
		return requireTeam(middleware.RequireTeamManager(h))
	}
	mux.Handle("POST /teams", requireAuth(s.teamH.Create))
	mux.Handle("DELETE /teams/{team_id}", requireTeam(http.HandlerFunc(s.teamH.Delete)))
	mux.Handle("PATCH /teams/{team_id}/settings/general", requireManager(s.teamH.Update))
	mux.Handle("GET /teams/{team_id}/settings/memberships", requireTeam(http.HandlerFunc(s.membershipH.List)))
	mux.Handle("POST /teams/{team_id}/settings/memberships", requireManager(s.membershipH.Create))
	mux.Handle("PATCH /teams/{team_id}/settings/memberships/{id}", requireManager(s.membershipH.Update))
	mux.Handle("DELETE /teams/{team_id}/settings/memberships/{id}", requireManager(s.membershipH.Delete))

	mux.Handle("GET /ws", ws.HandleWebSocket(s.hub, s.teamStore, s.origins, s.logger.With("component", "websocket")))

	var h http.Handler = mux
	h = middleware.Authenticate(s.authn)(h)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	return middleware.RequestID(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
