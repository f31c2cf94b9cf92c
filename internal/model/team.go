package model

import (
	"fmt"
	"time"
)

type TeamKind string

const (
	TeamKindPersonal TeamKind = "personal"
	TeamKindShared   TeamKind = "shared"
)

type Team struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      TeamKind  `json:"kind"`
	OwnerID   *int64    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a membership role. Roles are ranked: owner > admin > member.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Rank returns the position of the role in the hierarchy; unknown roles
// rank below member.
func (r Role) Rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleAdmin:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInvited  MembershipStatus = "invited"
	MembershipDisabled MembershipStatus = "disabled"
)

func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipActive, MembershipInvited, MembershipDisabled:
		return true
	default:
		return false
	}
}

// ParseMembershipStatus converts s into a MembershipStatus.
func ParseMembershipStatus(s string) (MembershipStatus, error) {
	st := MembershipStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid membership status %q", s)
	}
	return st, nil
}

type Membership struct {
	ID        int64            `json:"id"`
	TeamID    int64            `json:"team_id"`
	UserID    int64            `json:"user_id"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (m *Membership) Active() bool {
	return m.Status == MembershipActive
}

func (m *Membership) Owner() bool {
	return m.Role == RoleOwner
}

// CanManageTeam is true for active admins and owners.
func (m *Membership) CanManageTeam() bool {
	return m.Active() && m.Role.AtLeast(RoleAdmin)
}

// CanManageBilling is true for active owners only.
func (m *Membership) CanManageBilling() bool {
	return m.Active() && m.Role.AtLeast(RoleOwner)
}
