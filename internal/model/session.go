package model

import "time"

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MagicLinkPurpose string

const (
	PurposeSignIn MagicLinkPurpose = "sign_in"
	PurposeSignUp MagicLinkPurpose = "sign_up"
)

func (p MagicLinkPurpose) Valid() bool {
	return p == PurposeSignIn || p == PurposeSignUp
}

type MagicLink struct {
	ID        int64            `json:"id"`
	Code      string           `json:"-"`
	UserID    int64            `json:"user_id"`
	Purpose   MagicLinkPurpose `json:"purpose"`
	ExpiresAt time.Time        `json:"expires_at"`
	CreatedAt time.Time        `json:"created_at"`
}

// Expired reports whether the link is past its expiry at now.
func (ml *MagicLink) Expired(now time.Time) bool {
	return now.After(ml.ExpiresAt)
}
