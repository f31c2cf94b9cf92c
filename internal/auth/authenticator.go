package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/mail"
	"time"

	"github.com/gorilla/sessions"

	"github.com/dukerupert/tenantry/internal/model"
	"github.com/dukerupert/tenantry/internal/store"
)

// Notification purposes handed to a Notifier.
const (
	NotifySignIn                  = "sign_in"
	NotifySignUp                  = "sign_up"
	NotifyEmailChangeConfirmation = "email_change_confirmation"
	NotifyEmailChanged            = "email_changed"
)

const (
	overlayTrueUserID         = "true_user_id"
	overlayImpersonatedUserID = "impersonated_user_id"
)

// Notifier delivers a message to recipient. Implementations must not
// block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, recipient, purpose string, params map[string]string)
}

// SessionRevoker is told when a session stops being valid so that live
// connections bound to it can be dropped.
type SessionRevoker interface {
	CloseSession(sessionID int64)
}

type Options struct {
	AdminEmails    []string
	SignupsEnabled bool
	CodeTTL        time.Duration
	// ClientIP extracts the client address from a request. Defaults to the
	// host part of RemoteAddr.
	ClientIP func(*http.Request) string
}

// Authenticator owns sign-in, session resolution and impersonation.
type Authenticator struct {
	users      *store.UserStore
	sessions   *store.SessionStore
	magicLinks *store.MagicLinkStore
	cookies    *CookieJar
	appStore   sessions.Store
	notifier   Notifier
	revoker    SessionRevoker
	admins     map[string]bool
	signups    bool
	codeTTL    time.Duration
	clientIP   func(*http.Request) string
	logger     *slog.Logger
}

func NewAuthenticator(
	us *store.UserStore,
	ss *store.SessionStore,
	mls *store.MagicLinkStore,
	cookies *CookieJar,
	appStore sessions.Store,
	notifier Notifier,
	opts Options,
	logger *slog.Logger,
) *Authenticator {
	admins := make(map[string]bool, len(opts.AdminEmails))
	for _, e := range opts.AdminEmails {
		if e = model.NormalizeEmail(e); e != "" {
			admins[e] = true
		}
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = store.DefaultMagicLinkTTL
	}
	if opts.ClientIP == nil {
		opts.ClientIP = remoteHost
	}
	return &Authenticator{
		users:      us,
		sessions:   ss,
		magicLinks: mls,
		cookies:    cookies,
		appStore:   appStore,
		notifier:   notifier,
		admins:     admins,
		signups:    opts.SignupsEnabled,
		codeTTL:    opts.CodeTTL,
		clientIP:   opts.ClientIP,
		logger:     logger,
	}
}

// NewAppStore returns the cookie store holding the impersonation overlay.
func NewAppStore(keys *KeyGenerator, secure bool) *sessions.CookieStore {
	st := sessions.NewCookieStore(keys.Generate("cookie:app", cookieKeyLength))
	st.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return st
}

// SetRevoker registers the receiver of session revocations.
func (a *Authenticator) SetRevoker(r SessionRevoker) {
	a.revoker = r
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsAdmin reports whether u may impersonate other users.
func (a *Authenticator) IsAdmin(u *model.User) bool {
	return u != nil && a.admins[model.NormalizeEmail(u.Email)]
}

// ValidEmail reports whether s is a bare email address.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// RequestCode starts a sign-in for email. A code is issued and delivered
// when the address belongs to an active user, or to a new user when
// signups are enabled. Either way the pending-authentication cookie is set
// so the response does not reveal whether the account exists. The issued
// link is returned, or nil when none was issued.
func (a *Authenticator) RequestCode(ctx context.Context, w http.ResponseWriter, r *http.Request, email string) (*model.MagicLink, error) {
	email = model.NormalizeEmail(email)
	if !ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := a.cookies.SetPending(w, r, email); err != nil {
		return nil, err
	}

	user, err := a.users.GetByEmail(email)
	if err != nil {
		return nil, err
	}

	purpose := model.PurposeSignIn
	switch {
	case user == nil && !a.signups:
		a.logger.Debug("code requested for unknown email", "signups", false)
		return nil, nil
	case user == nil:
		user, err = a.users.Create(email, "")
		if err != nil {
			return nil, err
		}
		purpose = model.PurposeSignUp
		a.logger.Info("user signed up", "user_id", user.ID)
	case !user.Active():
		a.logger.Debug("code requested for inactive user", "user_id", user.ID)
		return nil, nil
	}

	ml, err := a.magicLinks.Issue(user.ID, purpose, a.codeTTL)
	if err != nil {
		return nil, err
	}

	a.notifier.Notify(ctx, user.Email, string(purpose), map[string]string{
		"code":       ml.Code,
		"expires_in": a.codeTTL.String(),
	})
	return ml, nil
}

// SubmitCode consumes code for the address held in the pending cookie and
// starts a session. The code is spent even when it belongs to a different
// address.
func (a *Authenticator) SubmitCode(w http.ResponseWriter, r *http.Request, code string) (*model.Session, *model.User, error) {
	pending, err := a.cookies.PendingEmail(r)
	if err != nil {
		a.logger.Debug("submit code without pending authentication", "error", err)
		return nil, nil, err
	}

	ml, err := a.magicLinks.Consume(code)
	if err != nil {
		a.logger.Debug("consume code", "error", err)
		return nil, nil, err
	}

	user, err := a.users.GetByID(ml.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !user.Active() {
		return nil, nil, ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(pending), []byte(user.Email)) != 1 {
		a.logger.Debug("code does not match pending email", "user_id", user.ID)
		return nil, nil, ErrNotFound
	}

	sess, err := a.StartSession(w, r, user)
	if err != nil {
		return nil, nil, err
	}
	a.cookies.ClearPending(w, r)
	return sess, user, nil
}

// StartSession creates a session for user, records the sign-in and writes
// the session cookie.
func (a *Authenticator) StartSession(w http.ResponseWriter, r *http.Request, user *model.User) (*model.Session, error) {
	ip := a.clientIP(r)
	sess, err := a.sessions.Create(user.ID, r.UserAgent(), ip)
	if err != nil {
		return nil, err
	}
	if err := a.users.TrackSignIn(user.ID, ip); err != nil {
		a.logger.Error("track sign in", "user_id", user.ID, "error", err)
	}
	if err := a.cookies.SetSession(w, r, sess.Token); err != nil {
		return nil, err
	}
	a.logger.Info("session started", "user_id", user.ID, "session_id", sess.ID)
	return sess, nil
}

// Resolve returns the identity of r, or nil when r is unauthenticated. It
// never fails: every problem resolves to nil.
func (a *Authenticator) Resolve(r *http.Request) *Identity {
	token, err := a.cookies.SessionToken(r)
	if err != nil {
		if !errors.Is(err, http.ErrNoCookie) {
			a.logger.Debug("resolve: bad session cookie", "error", err)
		}
		return nil
	}

	sess, err := a.sessions.GetByToken(token)
	if err != nil {
		a.logger.Error("resolve: session lookup", "error", err)
		return nil
	}
	if sess == nil {
		a.logger.Debug("resolve: unknown session")
		return nil
	}

	user, err := a.users.GetByID(sess.UserID)
	if err != nil {
		a.logger.Error("resolve: user lookup", "error", err)
		return nil
	}
	if user == nil || !user.Active() {
		a.logger.Debug("resolve: inactive user", "user_id", sess.UserID)
		return nil
	}

	return NewIdentity(sess, user, a.impersonated(r, user))
}

// impersonated returns the user named by a valid overlay, or nil.
func (a *Authenticator) impersonated(r *http.Request, trueUser *model.User) *model.User {
	app, err := a.appStore.Get(r, AppCookieName)
	if err != nil {
		a.logger.Debug("resolve: bad app cookie", "error", err)
		return nil
	}
	trueID, _ := app.Values[overlayTrueUserID].(int64)
	targetID, _ := app.Values[overlayImpersonatedUserID].(int64)
	if trueID == 0 || targetID == 0 {
		return nil
	}
	if trueID != trueUser.ID || !a.IsAdmin(trueUser) {
		a.logger.Debug("resolve: stale impersonation overlay", "user_id", trueUser.ID)
		return nil
	}

	target, err := a.users.GetByID(targetID)
	if err != nil {
		a.logger.Error("resolve: impersonated user lookup", "error", err)
		return nil
	}
	if target == nil || !target.Active() {
		return nil
	}
	return target
}

// Terminate destroys the session behind id and clears the session cookie
// and any impersonation. Terminating an already destroyed session is a
// no-op.
func (a *Authenticator) Terminate(w http.ResponseWriter, r *http.Request, id *Identity) error {
	if id != nil && id.Session != nil {
		if err := a.sessions.Delete(id.Session.ID); err != nil {
			return err
		}
		a.revoke(id.Session.ID)
		a.logger.Info("session terminated", "user_id", id.Session.UserID, "session_id", id.Session.ID)
	}
	a.cookies.ClearSession(w, r)
	return a.clearOverlay(w, r)
}

// TerminateAll signs the true user out of every session, including the
// current one.
func (a *Authenticator) TerminateAll(w http.ResponseWriter, r *http.Request, id *Identity) error {
	if id != nil && id.Session != nil {
		userID := id.Session.UserID
		sessions, err := a.sessions.ListForUser(userID)
		if err != nil {
			return err
		}
		if err := a.sessions.DeleteByUserID(userID); err != nil {
			return err
		}
		for _, sess := range sessions {
			a.revoke(sess.ID)
		}
		a.logger.Info("all sessions terminated", "user_id", userID, "sessions", len(sessions))
	}
	a.cookies.ClearSession(w, r)
	return a.clearOverlay(w, r)
}

func (a *Authenticator) revoke(sessionID int64) {
	if a.revoker != nil {
		a.revoker.CloseSession(sessionID)
	}
}

// Impersonate makes id act as target until StopImpersonating. Only admins
// may impersonate; the check is made against the true user.
func (a *Authenticator) Impersonate(w http.ResponseWriter, r *http.Request, id *Identity, target *model.User) error {
	trueUser := id.TrueUser()
	if !a.IsAdmin(trueUser) {
		return ErrNotAuthorized
	}
	if target == nil || !target.Active() {
		return ErrNotFound
	}
	if target.ID == trueUser.ID {
		return a.StopImpersonating(w, r)
	}

	app, err := a.appStore.Get(r, AppCookieName)
	if err != nil {
		a.logger.Debug("impersonate: replacing bad app cookie", "error", err)
	}
	app.Values[overlayTrueUserID] = trueUser.ID
	app.Values[overlayImpersonatedUserID] = target.ID
	if err := app.Save(r, w); err != nil {
		return fmt.Errorf("save app session: %w", err)
	}
	a.logger.Info("impersonation started", "admin_id", trueUser.ID, "user_id", target.ID)
	return nil
}

// StopImpersonating clears the impersonation overlay.
func (a *Authenticator) StopImpersonating(w http.ResponseWriter, r *http.Request) error {
	app, err := a.appStore.Get(r, AppCookieName)
	if err != nil {
		a.logger.Debug("stop impersonating: replacing bad app cookie", "error", err)
	}
	delete(app.Values, overlayTrueUserID)
	delete(app.Values, overlayImpersonatedUserID)
	if err := app.Save(r, w); err != nil {
		return fmt.Errorf("save app session: %w", err)
	}
	return nil
}

func (a *Authenticator) clearOverlay(w http.ResponseWriter, r *http.Request) error {
	app, err := a.appStore.Get(r, AppCookieName)
	if err != nil {
		a.logger.Debug("terminate: bad app cookie", "error", err)
	}
	app.Options.MaxAge = -1
	if err := app.Save(r, w); err != nil {
		return fmt.Errorf("clear app session: %w", err)
	}
	return nil
}

// PendingEmail returns the address a sign-in code was last requested for in
// this browser, or "" when there is no valid pending cookie.
func (a *Authenticator) PendingEmail(r *http.Request) string {
	email, err := a.cookies.PendingEmail(r)
	if err != nil {
		return ""
	}
	return email
}

// DeleteUser removes the user and drops their live connections.
func (a *Authenticator) DeleteUser(userID int64) error {
	sessions, err := a.sessions.ListForUser(userID)
	if err != nil {
		return err
	}
	if err := a.users.Delete(userID); err != nil {
		return err
	}
	for _, sess := range sessions {
		a.revoke(sess.ID)
	}
	a.logger.Info("user deleted", "user_id", userID, "sessions", len(sessions))
	return nil
}

// Deactivate deactivates the user, removes them from every team and closes
// all of their sessions, including live connections.
func (a *Authenticator) Deactivate(userID int64) error {
	ids, err := a.users.Deactivate(userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		a.revoke(id)
	}
	a.logger.Info("user deactivated", "user_id", userID, "sessions", len(ids))
	return nil
}
