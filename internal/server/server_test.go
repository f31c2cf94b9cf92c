package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/database"
	"github.com/dukerupert/tenantry/internal/handler"
	"github.com/dukerupert/tenantry/internal/middleware"
	"github.com/dukerupert/tenantry/internal/ratelimit"
	"github.com/dukerupert/tenantry/internal/store"
)

type notification struct {
	recipient string
	purpose   string
	params    map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, recipient, purpose string, params map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{recipient, purpose, params})
}

func (n *recordingNotifier) last(t *testing.T, recipient string) notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].recipient == recipient {
			return n.sent[i]
		}
	}
	t.Fatalf("nothing sent to %s", recipient)
	return notification{}
}

type testServer struct {
	*httptest.Server
	srv      *Server
	db       *sql.DB
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

// newTestServerWith lets a test adjust the options before the server starts.
func newTestServerWith(t *testing.T, configure func(*Options)) *testServer {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	keys, err := auth.NewKeyGenerator("server-test-secret-0123456789abcdefghij")
	if err != nil {
		t.Fatalf("key generator: %v", err)
	}
	notifier := &recordingNotifier{}
	opts := Options{
		Development:    true,
		BaseURL:        "http://tenantry.test",
		AdminEmails:    []string{"admin@example.com"},
		SignupsEnabled: true,
	}
	if configure != nil {
		configure(&opts)
	}
	srv := New(db, keys, ratelimit.NewMemoryCounter(), notifier, opts, slog.Default())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, srv: srv, db: db, notifier: notifier}
}

// browser is an HTTP client with its own cookie jar.
func (ts *testServer) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (ts *testServer) do(t *testing.T, c *http.Client, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	return ts.doWithHeaders(t, c, method, path, body, nil)
}

func (ts *testServer) doWithHeaders(t *testing.T, c *http.Client, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// signIn runs the whole code flow for email and returns the signed-in
// browser and the user's id.
func (ts *testServer) signIn(t *testing.T, email string) (*http.Client, int64) {
	t.Helper()
	c := ts.browser(t)

	resp, _ := ts.do(t, c, "POST", "/session", map[string]string{"email": email})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("request code status = %d, want 202", resp.StatusCode)
	}
	code := resp.Header.Get(handler.MagicLinkCodeHeader)
	if code == "" {
		t.Fatal("expected a code header in development")
	}

	resp, body := ts.do(t, c, "POST", "/session/magic_link", map[string]string{"code": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit code status = %d, want 200 (%v)", resp.StatusCode, body)
	}
	user := body["user"].(map[string]any)
	return c, int64(user["id"].(float64))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, ts.browser(t), "GET", "/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestSignInAndOut(t *testing.T) {
	ts := newTestServer(t)
	c, _ := ts.signIn(t, "Alice@Example.com")

	if n := ts.notifier.last(t, "alice@example.com"); n.purpose != auth.NotifySignUp {
		t.Errorf("purpose = %q, want %q", n.purpose, auth.NotifySignUp)
	}

	resp, body := ts.do(t, c, "GET", "/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	if got := body["user"].(map[string]any)["email"]; got != "alice@example.com" {
		t.Errorf("email = %v", got)
	}
	if body["impersonating"] != false {
		t.Errorf("impersonating = %v, want false", body["impersonating"])
	}
	if teams := body["teams"].([]any); len(teams) != 1 {
		t.Errorf("teams = %v, want the personal team", teams)
	}

	resp, _ = ts.do(t, c, "DELETE", "/session", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("sign out status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, c, "GET", "/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after sign out = %d, want 401", resp.StatusCode)
	}
}

func TestSecondSignInUsesSignInPurpose(t *testing.T) {
	ts := newTestServer(t)
	ts.signIn(t, "alice@example.com")
	ts.signIn(t, "alice@example.com")

	if n := ts.notifier.last(t, "alice@example.com"); n.purpose != auth.NotifySignIn {
		t.Errorf("purpose = %q, want %q", n.purpose, auth.NotifySignIn)
	}
}

func TestRequestCodeInvalidEmail(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, ts.browser(t), "POST", "/session", map[string]string{"email": "not an email"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	if body["error"] != auth.ErrInvalidEmail.Error() {
		t.Errorf("error = %v", body["error"])
	}
}

func TestSubmitWrongCode(t *testing.T) {
	ts := newTestServer(t)
	c := ts.browser(t)
	ts.do(t, c, "POST", "/session", map[string]string{"email": "alice@example.com"})

	resp, body := ts.do(t, c, "POST", "/session/magic_link", map[string]string{"code": "ZZZZZZ"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if body["error"] != "invalid or expired" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestSubmitWithoutPendingCookie(t *testing.T) {
	ts := newTestServer(t)
	c := ts.browser(t)
	resp, _ := ts.do(t, c, "POST", "/session", map[string]string{"email": "alice@example.com"})
	code := resp.Header.Get(handler.MagicLinkCodeHeader)

	// A different browser holds the code but not the pending cookie.
	resp, _ = ts.do(t, ts.browser(t), "POST", "/session/magic_link", map[string]string{"code": code})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSubmitCodeRateLimited(t *testing.T) {
	ts := newTestServer(t)
	c := ts.browser(t)
	ts.do(t, c, "POST", "/session", map[string]string{"email": "alice@example.com"})

	for i := 0; i < submitCodeMax; i++ {
		resp, _ := ts.do(t, c, "POST", "/session/magic_link", map[string]string{"code": "ZZZZZZ"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, resp.StatusCode)
		}
	}
	resp, _ := ts.do(t, c, "POST", "/session/magic_link", map[string]string{"code": "ZZZZZZ"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != strconv.Itoa(int(submitCodeWindow.Seconds())) {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

func TestSubmitCodeIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	ts := newTestServer(t)

	// Each guess comes from a fresh browser claiming a new address.
	for i := 0; i < submitCodeMax; i++ {
		xff := map[string]string{"X-Forwarded-For": "203.0.113." + strconv.Itoa(i+1)}
		resp, _ := ts.doWithHeaders(t, ts.browser(t), "POST", "/session/magic_link", map[string]string{"code": "ZZZZZZ"}, xff)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, resp.StatusCode)
		}
	}
	xff := map[string]string{"X-Forwarded-For": "198.51.100.1", "CF-Connecting-IP": "198.51.100.2"}
	resp, _ := ts.doWithHeaders(t, ts.browser(t), "POST", "/session/magic_link", map[string]string{"code": "ZZZZZZ"}, xff)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestSubmitCodeLimitedPerPendingEmail(t *testing.T) {
	ts := newTestServerWith(t, func(o *Options) {
		proxies, err := middleware.ParseTrustedProxies([]string{"127.0.0.0/8", "::1"})
		if err != nil {
			t.Fatalf("parse proxies: %v", err)
		}
		o.TrustedProxies = proxies
	})
	c := ts.browser(t)
	ts.do(t, c, "POST", "/session", map[string]string{"email": "alice@example.com"})

	// Behind a trusted proxy every guess has a distinct client address, so
	// only the pending email ties them together.
	for i := 0; i < submitCodeMax; i++ {
		xff := map[string]string{"X-Forwarded-For": "203.0.113." + strconv.Itoa(i+1)}
		resp, _ := ts.doWithHeaders(t, c, "POST", "/session/magic_link", map[string]string{"code": "ZZZZZZ"}, xff)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, resp.StatusCode)
		}
	}
	xff := map[string]string{"X-Forwarded-For": "198.51.100.1"}
	resp, _ := ts.doWithHeaders(t, c, "POST", "/session/magic_link", map[string]string{"code": "ZZZZZZ"}, xff)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestSubmitCodeAcceptsLowercaseWithSeparator(t *testing.T) {
	ts := newTestServer(t)
	c := ts.browser(t)

	resp, _ := ts.do(t, c, "POST", "/session", map[string]string{"email": "alice@example.com"})
	code := resp.Header.Get(handler.MagicLinkCodeHeader)
	if len(code) < 4 {
		t.Fatalf("code = %q", code)
	}
	typed := strings.ToLower(code[:3]) + "-" + strings.ToLower(code[3:])

	resp, body := ts.do(t, c, "POST", "/session/magic_link", map[string]string{"code": typed})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit %q status = %d, want 200 (%v)", typed, resp.StatusCode, body)
	}
	if got := body["user"].(map[string]any)["email"]; got != "alice@example.com" {
		t.Errorf("email = %v", got)
	}
}

func confirmationPath(t *testing.T, n notification) string {
	t.Helper()
	u, err := url.Parse(n.params["url"])
	if err != nil {
		t.Fatalf("parse confirmation url: %v", err)
	}
	return u.EscapedPath()
}

func TestEmailChange(t *testing.T) {
	ts := newTestServer(t)
	c, _ := ts.signIn(t, "alice@example.com")

	resp, _ := ts.do(t, c, "POST", "/users/email_addresses", map[string]string{"email": "alice@new.example.com"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("request change status = %d", resp.StatusCode)
	}
	n := ts.notifier.last(t, "alice@new.example.com")
	if n.purpose != auth.NotifyEmailChangeConfirmation {
		t.Fatalf("purpose = %q", n.purpose)
	}
	path := confirmationPath(t, n)

	resp, body := ts.do(t, c, "GET", path, nil)
	if resp.StatusCode != http.StatusOK || body["new_email"] != "alice@new.example.com" {
		t.Fatalf("show = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, c, "POST", path, nil)
	if resp.StatusCode != http.StatusOK || body["email"] != "alice@new.example.com" {
		t.Fatalf("confirm = %d %v", resp.StatusCode, body)
	}
	if n := ts.notifier.last(t, "alice@example.com"); n.purpose != auth.NotifyEmailChanged {
		t.Errorf("old address notified with %q", n.purpose)
	}

	// The token was tied to the old address.
	resp, body = ts.do(t, c, "POST", path, nil)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "invalid or expired" {
		t.Errorf("replay = %d %v", resp.StatusCode, body)
	}
}

func TestEmailChangeRejections(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.signIn(t, "alice@example.com")
	bob, _ := ts.signIn(t, "bob@example.com")

	resp, _ := ts.do(t, alice, "POST", "/users/email_addresses", map[string]string{"email": "bob@example.com"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("taken address status = %d, want 409", resp.StatusCode)
	}
	resp, _ = ts.do(t, alice, "POST", "/users/email_addresses", map[string]string{"email": "ALICE@example.com"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unchanged address status = %d, want 422", resp.StatusCode)
	}

	ts.do(t, alice, "POST", "/users/email_addresses", map[string]string{"email": "alice@new.example.com"})
	path := confirmationPath(t, ts.notifier.last(t, "alice@new.example.com"))

	resp, _ = ts.do(t, bob, "POST", path, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("other user confirm status = %d, want 403", resp.StatusCode)
	}
	resp, _ = ts.do(t, ts.browser(t), "POST", path, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous confirm status = %d, want 401", resp.StatusCode)
	}

	// Only the requesting user may see the pending change.
	resp, body := ts.do(t, ts.browser(t), "GET", path, nil)
	if resp.StatusCode != http.StatusUnauthorized || body["new_email"] != nil {
		t.Errorf("anonymous show = %d %v, want 401", resp.StatusCode, body)
	}
	resp, body = ts.do(t, bob, "GET", path, nil)
	if resp.StatusCode != http.StatusForbidden || body["new_email"] != nil {
		t.Errorf("other user show = %d %v, want 403", resp.StatusCode, body)
	}

	tampered := strings.TrimSuffix(path, "/confirmation") + "x/confirmation"
	resp, _ = ts.do(t, alice, "GET", tampered, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("tampered token status = %d, want 404", resp.StatusCode)
	}
}

func TestEmailChangeAddressTakenBeforeConfirm(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.signIn(t, "alice@example.com")

	ts.do(t, alice, "POST", "/users/email_addresses", map[string]string{"email": "shared@example.com"})
	path := confirmationPath(t, ts.notifier.last(t, "shared@example.com"))

	// Someone signs up with the address while the link is in flight.
	ts.signIn(t, "shared@example.com")

	resp, body := ts.do(t, alice, "POST", path, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("confirm status = %d %v, want 409", resp.StatusCode, body)
	}
	_, me := ts.do(t, alice, "GET", "/me", nil)
	if got := me["user"].(map[string]any)["email"]; got != "alice@example.com" {
		t.Errorf("email = %v, want unchanged", got)
	}
}

func TestUpdateProfile(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.signIn(t, "alice@example.com")

	resp, body := ts.do(t, alice, "PATCH", "/profile", map[string]string{"name": "  Alice Liddell "})
	if resp.StatusCode != http.StatusOK || body["name"] != "Alice Liddell" {
		t.Fatalf("update = %d %v", resp.StatusCode, body)
	}
	_, me := ts.do(t, alice, "GET", "/me", nil)
	if got := me["user"].(map[string]any)["name"]; got != "Alice Liddell" {
		t.Errorf("name = %v", got)
	}

	resp, _ = ts.do(t, alice, "PATCH", "/profile", map[string]string{"name": strings.Repeat("a", 101)})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("long name status = %d, want 422", resp.StatusCode)
	}
	resp, _ = ts.do(t, ts.browser(t), "PATCH", "/profile", map[string]string{"name": "Mallory"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", resp.StatusCode)
	}
}

func TestSignOutEverywhere(t *testing.T) {
	ts := newTestServer(t)
	laptop, _ := ts.signIn(t, "alice@example.com")
	phone, _ := ts.signIn(t, "alice@example.com")
	bob, _ := ts.signIn(t, "bob@example.com")

	resp, _ := ts.do(t, laptop, "DELETE", "/sessions", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("sign out everywhere status = %d", resp.StatusCode)
	}
	for name, c := range map[string]*http.Client{"laptop": laptop, "phone": phone} {
		if resp, _ := ts.do(t, c, "GET", "/me", nil); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s me = %d, want 401", name, resp.StatusCode)
		}
	}
	if resp, _ := ts.do(t, bob, "GET", "/me", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("other user me = %d, want 200", resp.StatusCode)
	}
}

func TestImpersonation(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.signIn(t, "alice@example.com")
	admin, adminID := ts.signIn(t, "admin@example.com")

	resp, _ := ts.do(t, alice, "POST", "/impersonate/"+strconv.FormatInt(adminID, 10), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-admin impersonate status = %d, want 403", resp.StatusCode)
	}

	resp, _ = ts.do(t, admin, "POST", "/impersonate/"+strconv.FormatInt(aliceID, 10), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("impersonate status = %d", resp.StatusCode)
	}
	_, body := ts.do(t, admin, "GET", "/me", nil)
	if body["impersonating"] != true {
		t.Errorf("impersonating = %v, want true", body["impersonating"])
	}
	if got := body["user"].(map[string]any)["email"]; got != "alice@example.com" {
		t.Errorf("acting user = %v", got)
	}
	if got := body["true_user"].(map[string]any)["email"]; got != "admin@example.com" {
		t.Errorf("true user = %v", got)
	}

	resp, _ = ts.do(t, admin, "POST", "/impersonate/999999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown target status = %d, want 404", resp.StatusCode)
	}

	resp, _ = ts.do(t, admin, "POST", "/stop_impersonating", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	_, body = ts.do(t, admin, "GET", "/me", nil)
	if body["impersonating"] != false {
		t.Errorf("impersonating after stop = %v", body["impersonating"])
	}
}

func TestDeactivationEndsSessions(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.signIn(t, "alice@example.com")
	admin, adminID := ts.signIn(t, "admin@example.com")

	resp, _ := ts.do(t, admin, "POST", "/admin/users/"+strconv.FormatInt(adminID, 10)+"/deactivate", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("self deactivate status = %d, want 403", resp.StatusCode)
	}

	resp, _ = ts.do(t, admin, "POST", "/admin/users/"+strconv.FormatInt(aliceID, 10)+"/deactivate", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deactivate status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, alice, "GET", "/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("deactivated user me = %d, want 401", resp.StatusCode)
	}

	// No code is issued to a deactivated user, but the response is unchanged.
	c := ts.browser(t)
	resp, _ = ts.do(t, c, "POST", "/session", map[string]string{"email": "alice@example.com"})
	if resp.StatusCode != http.StatusAccepted || resp.Header.Get(handler.MagicLinkCodeHeader) != "" {
		t.Errorf("request code for deactivated user = %d, code %q", resp.StatusCode, resp.Header.Get(handler.MagicLinkCodeHeader))
	}

	resp, body := ts.do(t, admin, "POST", "/admin/users/"+strconv.FormatInt(aliceID, 10)+"/reactivate", nil)
	if resp.StatusCode != http.StatusOK || body["deactivated_at"] != nil {
		t.Errorf("reactivate = %d %v", resp.StatusCode, body)
	}
}

func TestAdminDeleteUser(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.signIn(t, "alice@example.com")
	admin, adminID := ts.signIn(t, "admin@example.com")

	resp, _ := ts.do(t, alice, "DELETE", "/admin/users/"+strconv.FormatInt(adminID, 10), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-admin delete status = %d, want 403", resp.StatusCode)
	}
	resp, _ = ts.do(t, admin, "DELETE", "/admin/users/"+strconv.FormatInt(adminID, 10), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("self delete status = %d, want 403", resp.StatusCode)
	}
	resp, _ = ts.do(t, admin, "DELETE", "/admin/users/999999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", resp.StatusCode)
	}

	resp, _ = ts.do(t, admin, "DELETE", "/admin/users/"+strconv.FormatInt(aliceID, 10), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, alice, "GET", "/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("deleted user me = %d, want 401", resp.StatusCode)
	}
	if u, _ := store.NewUserStore(ts.db).GetByEmail("alice@example.com"); u != nil {
		t.Error("user row should be gone")
	}
}

func TestTeamLifecycle(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.signIn(t, "alice@example.com")
	bob, _ := ts.signIn(t, "bob@example.com")

	resp, body := ts.do(t, alice, "POST", "/teams", map[string]string{"name": " Acme "})
	if resp.StatusCode != http.StatusCreated || body["name"] != "Acme" || body["kind"] != "shared" {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}
	teamPath := "/teams/" + strconv.FormatInt(int64(body["id"].(float64)), 10)

	resp, _ = ts.do(t, alice, "POST", "/teams", map[string]string{"name": "  "})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("blank name status = %d, want 422", resp.StatusCode)
	}

	resp, body = ts.do(t, alice, "PATCH", teamPath+"/settings/general", map[string]string{"name": "Acme Corp"})
	if resp.StatusCode != http.StatusOK || body["name"] != "Acme Corp" {
		t.Fatalf("rename = %d %v", resp.StatusCode, body)
	}
	resp, _ = ts.do(t, bob, "PATCH", teamPath+"/settings/general", map[string]string{"name": "Hijacked"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("outsider rename status = %d, want 403", resp.StatusCode)
	}

	resp, _ = ts.do(t, alice, "POST", teamPath+"/settings/memberships", map[string]string{"email": "bob@example.com", "role": "admin"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add bob status = %d", resp.StatusCode)
	}
	resp, body = ts.do(t, bob, "PATCH", teamPath+"/settings/general", map[string]string{"name": "Acme Inc"})
	if resp.StatusCode != http.StatusOK || body["name"] != "Acme Inc" {
		t.Errorf("admin rename = %d %v", resp.StatusCode, body)
	}
	resp, _ = ts.do(t, bob, "DELETE", teamPath, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("admin delete status = %d, want 403", resp.StatusCode)
	}

	_, me := ts.do(t, alice, "GET", "/me", nil)
	var personalID int64
	for _, team := range me["teams"].([]any) {
		if m := team.(map[string]any); m["kind"] == "personal" {
			personalID = int64(m["id"].(float64))
		}
	}
	resp, _ = ts.do(t, alice, "DELETE", "/teams/"+strconv.FormatInt(personalID, 10), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("delete personal team status = %d, want 403", resp.StatusCode)
	}

	resp, _ = ts.do(t, alice, "DELETE", teamPath, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, bob, "GET", teamPath+"/settings/memberships", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("deleted team status = %d, want 403", resp.StatusCode)
	}
}

func TestMembershipSettings(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.signIn(t, "alice@example.com")
	bob, bobID := ts.signIn(t, "bob@example.com")
	carol, _ := ts.signIn(t, "carol@example.com")

	_, me := ts.do(t, alice, "GET", "/me", nil)
	teamID := int64(me["teams"].([]any)[0].(map[string]any)["id"].(float64))
	base := "/teams/" + strconv.FormatInt(teamID, 10) + "/settings/memberships"

	resp, body := ts.do(t, alice, "POST", base, map[string]string{"email": "Bob@Example.com"})
	if resp.StatusCode != http.StatusCreated || body["role"] != "member" || int64(body["user_id"].(float64)) != bobID {
		t.Fatalf("add member = %d %v", resp.StatusCode, body)
	}
	bobPath := base + "/" + strconv.FormatInt(int64(body["id"].(float64)), 10)

	resp, _ = ts.do(t, alice, "POST", base, map[string]string{"email": "bob@example.com"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate add status = %d, want 409", resp.StatusCode)
	}
	resp, _ = ts.do(t, alice, "POST", base, map[string]string{"email": "nobody@example.com"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user add status = %d, want 404", resp.StatusCode)
	}
	resp, _ = ts.do(t, alice, "POST", base, map[string]string{"email": "carol@example.com", "role": "owner"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("add as owner status = %d, want 422", resp.StatusCode)
	}
	resp, _ = ts.do(t, bob, "POST", base, map[string]string{"email": "carol@example.com"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("member adding status = %d, want 403", resp.StatusCode)
	}

	owner, err := store.NewTeamStore(ts.db).GetMembership(teamID, aliceID)
	if err != nil || owner == nil {
		t.Fatalf("owner membership: %v", err)
	}
	ownerPath := base + "/" + strconv.FormatInt(owner.ID, 10)

	resp, _ = ts.do(t, bob, "GET", base, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("member list status = %d, want 200", resp.StatusCode)
	}
	resp, _ = ts.do(t, carol, "GET", base, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("outsider list status = %d, want 403", resp.StatusCode)
	}
	resp, _ = ts.do(t, carol, "GET", "/teams/abc/settings/memberships", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("bad team id status = %d, want 403", resp.StatusCode)
	}
	resp, _ = ts.do(t, carol, "GET", "/teams/999999/settings/memberships", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unknown team status = %d, want 403", resp.StatusCode)
	}

	resp, _ = ts.do(t, bob, "PATCH", bobPath, map[string]string{"role": "admin"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("member promoting self status = %d, want 403", resp.StatusCode)
	}

	resp, body = ts.do(t, alice, "PATCH", bobPath, map[string]string{"role": "admin"})
	if resp.StatusCode != http.StatusOK || body["role"] != "admin" {
		t.Fatalf("promote = %d %v", resp.StatusCode, body)
	}
	resp, _ = ts.do(t, alice, "PATCH", bobPath, map[string]string{"role": "owner"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("grant owner status = %d, want 422", resp.StatusCode)
	}

	// Bob is now an admin, but the owner membership stays immutable.
	resp, _ = ts.do(t, bob, "PATCH", ownerPath, map[string]string{"status": "disabled"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("modify owner status = %d, want 403", resp.StatusCode)
	}
	resp, _ = ts.do(t, bob, "DELETE", ownerPath, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("remove owner status = %d, want 403", resp.StatusCode)
	}
	resp, _ = ts.do(t, bob, "DELETE", bobPath, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("remove self status = %d, want 403", resp.StatusCode)
	}

	resp, _ = ts.do(t, alice, "DELETE", bobPath, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, bob, "GET", base, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("removed member list status = %d, want 403", resp.StatusCode)
	}
	resp, _ = ts.do(t, alice, "DELETE", bobPath, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("remove again status = %d, want 404", resp.StatusCode)
	}
}

func TestCleanupKeepsLiveLinks(t *testing.T) {
	ts := newTestServer(t)
	c := ts.browser(t)

	resp, _ := ts.do(t, c, "POST", "/session", map[string]string{"email": "alice@example.com"})
	code := resp.Header.Get(handler.MagicLinkCodeHeader)

	ts.srv.Cleanup()

	resp, body := ts.do(t, c, "POST", "/session/magic_link", map[string]string{"code": code})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("submit after cleanup = %d %v, want 200", resp.StatusCode, body)
	}
}
