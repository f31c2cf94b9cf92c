package auth

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukerupert/tenantry/internal/database"
	"github.com/dukerupert/tenantry/internal/store"
)

type notification struct {
	recipient string
	purpose   string
	params    map[string]string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, recipient, purpose string, params map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{recipient: recipient, purpose: purpose, params: params})
}

func (n *fakeNotifier) last(t *testing.T) notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("expected a notification")
	}
	return n.sent[len(n.sent)-1]
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeRevoker struct {
	closed []int64
}

func (r *fakeRevoker) CloseSession(id int64) {
	r.closed = append(r.closed, id)
}

type fixture struct {
	users      *store.UserStore
	teams      *store.TeamStore
	sessions   *store.SessionStore
	magicLinks *store.MagicLinkStore
	keys       *KeyGenerator
	cookies    *CookieJar
	notifier   *fakeNotifier
	revoker    *fakeRevoker
	auth       *Authenticator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		users:      store.NewUserStore(db),
		teams:      store.NewTeamStore(db),
		sessions:   store.NewSessionStore(db),
		magicLinks: store.NewMagicLinkStore(db),
		keys:       newTestKeys(t),
		notifier:   &fakeNotifier{},
		revoker:    &fakeRevoker{},
	}
	f.cookies = NewCookieJar(f.keys, false)
	f.auth = NewAuthenticator(
		f.users, f.sessions, f.magicLinks, f.cookies,
		NewAppStore(f.keys, false), f.notifier, opts, slog.Default(),
	)
	f.auth.SetRevoker(f.revoker)
	return f
}
