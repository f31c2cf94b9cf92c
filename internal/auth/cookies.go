package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	SessionCookieName = "tenantry_session"
	PendingCookieName = "tenantry_pending_auth"
	AppCookieName     = "tenantry_app"

	// Session cookies are effectively permanent; the session row is what
	// gets revoked.
	sessionCookieMaxAge = 20 * 365 * 24 * time.Hour
	PendingAuthMaxAge   = 15 * time.Minute

	cookieKeyLength = 64
)

type pendingAuth struct {
	Email    string `json:"email"`
	IssuedAt int64  `json:"iat"`
}

// CookieJar reads and writes the signed session and pending-authentication
// cookies.
type CookieJar struct {
	session *securecookie.SecureCookie
	pending *securecookie.SecureCookie
	secure  bool
	now     func() time.Time
}

// NewCookieJar builds a jar whose cookies are signed with keys derived from
// keys. secure forces the Secure attribute even on plain HTTP requests.
func NewCookieJar(keys *KeyGenerator, secure bool) *CookieJar {
	session := securecookie.New(keys.Generate("cookie:session", cookieKeyLength), nil).
		MaxAge(int(sessionCookieMaxAge / time.Second))
	// Pending cookies carry their own issue time, checked against j.now.
	pending := securecookie.New(keys.Generate("cookie:pending_authentication", cookieKeyLength), nil).
		MaxAge(0).
		SetSerializer(securecookie.JSONEncoder{})
	return &CookieJar{
		session: session,
		pending: pending,
		secure:  secure,
		now:     time.Now,
	}
}

func (j *CookieJar) cookie(r *http.Request, name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   j.secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
}

func (j *CookieJar) clear(w http.ResponseWriter, r *http.Request, name string) {
	c := j.cookie(r, name, "", 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// SetSession writes the signed session token cookie.
func (j *CookieJar) SetSession(w http.ResponseWriter, r *http.Request, token string) error {
	encoded, err := j.session.Encode(SessionCookieName, token)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, j.cookie(r, SessionCookieName, encoded, sessionCookieMaxAge))
	return nil
}

// SessionToken returns the session token carried by r. It returns
// http.ErrNoCookie when there is none and ErrInvalidSignature when the
// cookie was not signed by this jar.
func (j *CookieJar) SessionToken(r *http.Request) (string, error) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", err
	}
	var token string
	if err := j.session.Decode(SessionCookieName, c.Value, &token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return token, nil
}

func (j *CookieJar) ClearSession(w http.ResponseWriter, r *http.Request) {
	j.clear(w, r, SessionCookieName)
}

// SetPending remembers which email address is mid sign-in.
func (j *CookieJar) SetPending(w http.ResponseWriter, r *http.Request, email string) error {
	encoded, err := j.pending.Encode(PendingCookieName, pendingAuth{
		Email:    email,
		IssuedAt: j.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode pending cookie: %w", err)
	}
	http.SetCookie(w, j.cookie(r, PendingCookieName, encoded, PendingAuthMaxAge))
	return nil
}

// PendingEmail returns the email address stored by SetPending. It returns
// ErrNotFound without a cookie, ErrInvalidSignature for a forged one and
// ErrExpired once PendingAuthMaxAge has passed.
func (j *CookieJar) PendingEmail(r *http.Request) (string, error) {
	c, err := r.Cookie(PendingCookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	var p pendingAuth
	if err := j.pending.Decode(PendingCookieName, c.Value, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if j.now().Sub(time.Unix(p.IssuedAt, 0)) > PendingAuthMaxAge {
		return "", ErrExpired
	}
	return p.Email, nil
}

func (j *CookieJar) ClearPending(w http.ResponseWriter, r *http.Request) {
	j.clear(w, r, PendingCookieName)
}
