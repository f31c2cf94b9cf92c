package auth

import (
	"context"

	"github.com/dukerupert/tenantry/internal/model"
	"github.com/dukerupert/tenantry/internal/store"
)

// TeamContext is an authorized (user, team, membership) triple.
type TeamContext struct {
	User       *model.User
	Team       *model.Team
	Membership *model.Membership
}

func (tc *TeamContext) CanManageTeam() bool {
	return tc.Membership.CanManageTeam()
}

func (tc *TeamContext) CanManageBilling() bool {
	return tc.Membership.CanManageBilling()
}

type TeamAuthorizer struct {
	teams *store.TeamStore
}

func NewTeamAuthorizer(ts *store.TeamStore) *TeamAuthorizer {
	return &TeamAuthorizer{teams: ts}
}

// RequireTeam authorizes the acting user of ctx against teamID, or against
// their default team when teamID is nil. A team the user cannot access is
// reported as ErrNotAuthorized whether or not it exists.
func (a *TeamAuthorizer) RequireTeam(ctx context.Context, teamID *int64) (*TeamContext, error) {
	user := CurrentUser(ctx)
	if user == nil {
		if teamID == nil {
			return nil, ErrNoTenantSelected
		}
		return nil, ErrNotAuthorized
	}

	var team *model.Team
	var err error
	if teamID == nil {
		team, err = a.teams.DefaultTeamForUser(user.ID)
		if err != nil {
			return nil, err
		}
		if team == nil {
			return nil, ErrNoTenantSelected
		}
	} else {
		team, err = a.teams.GetByID(*teamID)
		if err != nil {
			return nil, err
		}
		if team == nil {
			return nil, ErrNotAuthorized
		}
	}

	m, err := a.teams.GetMembership(team.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Active() {
		return nil, ErrNotAuthorized
	}
	return &TeamContext{User: user, Team: team, Membership: m}, nil
}
