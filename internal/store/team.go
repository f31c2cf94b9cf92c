package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/tenantry/internal/model"
)

type TeamStore struct {
	db *sql.DB
}

func NewTeamStore(db *sql.DB) *TeamStore {
	return &TeamStore{db: db}
}

func scanTeam(scanner interface{ Scan(...any) error }) (*model.Team, error) {
	var t model.Team
	var ownerID sql.NullInt64
	err := scanner.Scan(&t.ID, &t.Name, &t.Kind, &ownerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ownerID.Valid {
		t.OwnerID = &ownerID.Int64
	}
	return &t, nil
}

func scanMembership(scanner interface{ Scan(...any) error }) (*model.Membership, error) {
	var m model.Membership
	err := scanner.Scan(&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const teamCols = `id, name, kind, owner_id, created_at, updated_at`
const membershipCols = `id, team_id, user_id, role, status, created_at, updated_at`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// createTeamWithOwner inserts a team and an active owner membership for
// ownerID using the given transaction.
func createTeamWithOwner(tx execer, name string, kind model.TeamKind, ownerID int64) (int64, error) {
	result, err := tx.Exec(
		`INSERT INTO teams (name, kind, owner_id) VALUES (?, ?, ?)`,
		name, string(kind), ownerID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert team: %w", err)
	}
	teamID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO memberships (team_id, user_id, role, status) VALUES (?, ?, ?, ?)`,
		teamID, ownerID, string(model.RoleOwner), string(model.MembershipActive),
	); err != nil {
		return 0, fmt.Errorf("insert owner membership: %w", err)
	}
	return teamID, nil
}

// CreateWithOwner creates a team whose creator becomes its active owner.
func (s *TeamStore) CreateWithOwner(name string, kind model.TeamKind, ownerID int64) (*model.Team, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := createTeamWithOwner(tx, name, kind, ownerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *TeamStore) GetByID(id int64) (*model.Team, error) {
	row := s.db.QueryRow(`SELECT `+teamCols+` FROM teams WHERE id = ?`, id)
	t, err := scanTeam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

func (s *TeamStore) Update(id int64, name string) (*model.Team, error) {
	_, err := s.db.Exec(`UPDATE teams SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("update team: %w", err)
	}
	return s.GetByID(id)
}

func (s *TeamStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM teams WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return nil
}

func (s *TeamStore) AddMember(teamID, userID int64, role model.Role, status model.MembershipStatus) (*model.Membership, error) {
	result, err := s.db.Exec(
		`INSERT INTO memberships (team_id, user_id, role, status) VALUES (?, ?, ?, ?)`,
		teamID, userID, string(role), string(status),
	)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyMember
	}
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+membershipCols+` FROM memberships WHERE id = ?`, id)
	return scanMembership(row)
}

// GetMembership returns the membership binding userID to teamID regardless
// of status, or nil.
func (s *TeamStore) GetMembership(teamID, userID int64) (*model.Membership, error) {
	row := s.db.QueryRow(
		`SELECT `+membershipCols+` FROM memberships WHERE team_id = ? AND user_id = ?`,
		teamID, userID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// GetMembershipByID returns the membership with id inside teamID, or nil.
func (s *TeamStore) GetMembershipByID(teamID, id int64) (*model.Membership, error) {
	row := s.db.QueryRow(
		`SELECT `+membershipCols+` FROM memberships WHERE team_id = ? AND id = ?`,
		teamID, id,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership by id: %w", err)
	}
	return m, nil
}

// Member is a membership joined with the member's email and name.
type Member struct {
	model.Membership
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *TeamStore) ListMembers(teamID int64) ([]Member, error) {
	rows, err := s.db.Query(
		`SELECT m.id, m.team_id, m.user_id, m.role, m.status, m.created_at, m.updated_at, u.email, u.name
		 FROM memberships m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.team_id = ?
		 ORDER BY m.created_at ASC, m.id ASC`,
		teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(
			&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.Status, &m.CreatedAt, &m.UpdatedAt,
			&m.Email, &m.Name,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListTeamsForUser returns the teams where userID has an active membership.
func (s *TeamStore) ListTeamsForUser(userID int64) ([]model.Team, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.name, t.kind, t.owner_id, t.created_at, t.updated_at
		 FROM teams t
		 JOIN memberships m ON t.id = m.team_id
		 WHERE m.user_id = ? AND m.status = ?
		 ORDER BY m.created_at ASC, m.id ASC`,
		userID, string(model.MembershipActive),
	)
	if err != nil {
		return nil, fmt.Errorf("list teams for user: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

// DefaultTeamForUser returns the team of the user's earliest active
// membership, or nil.
func (s *TeamStore) DefaultTeamForUser(userID int64) (*model.Team, error) {
	row := s.db.QueryRow(
		`SELECT t.id, t.name, t.kind, t.owner_id, t.created_at, t.updated_at
		 FROM teams t
		 JOIN memberships m ON t.id = m.team_id
		 WHERE m.user_id = ? AND m.status = ?
		 ORDER BY m.created_at ASC, m.id ASC
		 LIMIT 1`,
		userID, string(model.MembershipActive),
	)
	t, err := scanTeam(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default team: %w", err)
	}
	return t, nil
}

func (s *TeamStore) UpdateMembership(teamID, id int64, role model.Role, status model.MembershipStatus) (*model.Membership, error) {
	_, err := s.db.Exec(
		`UPDATE memberships SET role = ?, status = ? WHERE team_id = ? AND id = ?`,
		string(role), string(status), teamID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update membership: %w", err)
	}
	return s.GetMembershipByID(teamID, id)
}

func (s *TeamStore) RemoveMembership(teamID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM memberships WHERE team_id = ? AND id = ?`, teamID, id)
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}
