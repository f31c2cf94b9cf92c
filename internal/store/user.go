package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/tenantry/internal/model"
)

type UserStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db, now: utcNow}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var currentAt, lastAt, deactivatedAt, deletedAt sql.NullTime
	var currentIP, lastIP sql.NullString
	err := scanner.Scan(
		&u.ID, &u.Email, &u.Name, &u.SignInCount,
		&currentAt, &currentIP, &lastAt, &lastIP,
		&deactivatedAt, &deletedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if currentAt.Valid {
		u.CurrentSignInAt = &currentAt.Time
	}
	if lastAt.Valid {
		u.LastSignInAt = &lastAt.Time
	}
	if deactivatedAt.Valid {
		u.DeactivatedAt = &deactivatedAt.Time
	}
	if deletedAt.Valid {
		u.DeletedAt = &deletedAt.Time
	}
	u.CurrentSignInIP = currentIP.String
	u.LastSignInIP = lastIP.String
	return &u, nil
}

const userCols = `id, email, name, sign_in_count, current_sign_in_at, current_sign_in_ip,
	last_sign_in_at, last_sign_in_ip, deactivated_at, deleted_at, created_at, updated_at`

// Create inserts a user with a normalized email together with a personal
// team the user owns, in one transaction.
func (s *UserStore) Create(email, name string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("insert user: email is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`INSERT INTO users (email, name) VALUES (?, ?)`, email, name)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := createTeamWithOwner(tx, email+"'s Workspace", model.TeamKindPersonal, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetByEmail looks a user up by normalized email.
func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, model.NormalizeEmail(email))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) UpdateName(id int64, name string) (*model.User, error) {
	_, err := s.db.Exec(`UPDATE users SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

// ChangeEmail sets the user's email to newEmail only if it still equals
// oldEmail. It returns ErrEmailChanged when the condition does not hold and
// ErrEmailTaken when another user holds newEmail.
func (s *UserStore) ChangeEmail(id int64, oldEmail, newEmail string) (*model.User, error) {
	result, err := s.db.Exec(
		`UPDATE users SET email = ? WHERE id = ? AND email = ?`,
		model.NormalizeEmail(newEmail), id, model.NormalizeEmail(oldEmail),
	)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("change email: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrEmailChanged
	}
	return s.GetByID(id)
}

// TrackSignIn shifts the current sign-in stamp to last and records a new one.
func (s *UserStore) TrackSignIn(id int64, ip string) error {
	_, err := s.db.Exec(
		`UPDATE users SET
			sign_in_count = sign_in_count + 1,
			last_sign_in_at = current_sign_in_at,
			last_sign_in_ip = current_sign_in_ip,
			current_sign_in_at = ?,
			current_sign_in_ip = ?
		 WHERE id = ?`,
		s.now(), ip, id,
	)
	if err != nil {
		return fmt.Errorf("track sign in: %w", err)
	}
	return nil
}

// Deactivate marks the user deactivated, disables every membership and
// deletes every session in one transaction. It returns the ids of the
// deleted sessions.
func (s *UserStore) Deactivate(id int64) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE users SET deactivated_at = ? WHERE id = ?`, s.now(), id); err != nil {
		return nil, fmt.Errorf("deactivate user: %w", err)
	}
	if _, err := tx.Exec(`UPDATE memberships SET status = ? WHERE user_id = ?`, string(model.MembershipDisabled), id); err != nil {
		return nil, fmt.Errorf("disable memberships: %w", err)
	}

	rows, err := tx.Query(`DELETE FROM sessions WHERE user_id = ? RETURNING id`, id)
	if err != nil {
		return nil, fmt.Errorf("delete sessions: %w", err)
	}
	var sessionIDs []int64
	for rows.Next() {
		var sid int64
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		sessionIDs = append(sessionIDs, sid)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sessionIDs, nil
}

// Reactivate clears the deactivation stamp. Memberships stay disabled
// until a team manager re-enables them.
func (s *UserStore) Reactivate(id int64) (*model.User, error) {
	_, err := s.db.Exec(`UPDATE users SET deactivated_at = NULL WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("reactivate user: %w", err)
	}
	return s.GetByID(id)
}

// Delete removes the user. Sessions, memberships and magic links cascade;
// teams the user owned are kept without an owner.
func (s *UserStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
