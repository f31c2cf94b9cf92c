package model

import (
	"strings"
	"time"
)

type User struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	SignInCount     int        `json:"sign_in_count"`
	CurrentSignInAt *time.Time `json:"current_sign_in_at"`
	CurrentSignInIP string     `json:"current_sign_in_ip"`
	LastSignInAt    *time.Time `json:"last_sign_in_at"`
	LastSignInIP    string     `json:"last_sign_in_ip"`
	DeactivatedAt   *time.Time `json:"deactivated_at"`
	DeletedAt       *time.Time `json:"deleted_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Active reports whether the user may sign in.
func (u *User) Active() bool {
	return u.DeactivatedAt == nil && u.DeletedAt == nil
}

// InactiveMessage explains why an inactive user cannot sign in.
func (u *User) InactiveMessage() string {
	switch {
	case u.DeactivatedAt != nil:
		return "This account has been deactivated."
	case u.DeletedAt != nil:
		return "This account has been deleted."
	default:
		return "This account is not active."
	}
}

// DisplayName returns the name when set, the email otherwise.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
