package auth

import (
	"context"

	"github.com/dukerupert/tenantry/internal/model"
)

type contextKey struct{}

type teamContextKey struct{}

// Identity is the resolved principal of a request. The acting user differs
// from the true user only while an admin impersonates someone.
type Identity struct {
	Session  *model.Session
	user     *model.User
	trueUser *model.User
}

// NewIdentity builds an identity for a session owned by trueUser and acting
// as acting. A nil acting user means no impersonation.
func NewIdentity(sess *model.Session, trueUser, acting *model.User) *Identity {
	if acting == nil {
		acting = trueUser
	}
	return &Identity{Session: sess, user: acting, trueUser: trueUser}
}

// User returns the acting user.
func (id *Identity) User() *model.User {
	if id == nil {
		return nil
	}
	return id.user
}

// TrueUser returns the user who owns the session.
func (id *Identity) TrueUser() *model.User {
	if id == nil {
		return nil
	}
	return id.trueUser
}

func (id *Identity) IsImpersonating() bool {
	if id == nil || id.user == nil || id.trueUser == nil {
		return false
	}
	return id.user.ID != id.trueUser.ID
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// CurrentUser returns the acting user, or nil when unauthenticated.
func CurrentUser(ctx context.Context) *model.User {
	id, _ := FromContext(ctx)
	return id.User()
}

func TrueUser(ctx context.Context) *model.User {
	id, _ := FromContext(ctx)
	return id.TrueUser()
}

func IsImpersonating(ctx context.Context) bool {
	id, _ := FromContext(ctx)
	return id.IsImpersonating()
}

func WithTeam(ctx context.Context, tc *TeamContext) context.Context {
	return context.WithValue(ctx, teamContextKey{}, tc)
}

// TeamFromContext returns the team context stored by WithTeam.
func TeamFromContext(ctx context.Context) (*TeamContext, bool) {
	tc, ok := ctx.Value(teamContextKey{}).(*TeamContext)
	return tc, ok && tc != nil
}
