package auth

import (
	"errors"

	"github.com/dukerupert/tenantry/internal/store"
)

var (
	ErrNotFound         = store.ErrNotFound
	ErrExpired          = store.ErrExpired
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrNoTenantSelected = errors.New("no team selected")

	ErrInvalidEmail   = errors.New("invalid email address")
	ErrEmailUnchanged = errors.New("email address is unchanged")
	ErrEmailTaken     = store.ErrEmailTaken
)

// PublicMessage returns the text safe to show a client for err. Missing,
// expired and forged credentials all read the same.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, store.ErrEmailChanged):
		return "invalid or expired"
	case errors.Is(err, ErrNotAuthorized):
		return "not authorized"
	case errors.Is(err, ErrNoTenantSelected):
		return "no team selected"
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrEmailUnchanged),
		errors.Is(err, ErrEmailTaken):
		return err.Error()
	default:
		return "internal error"
	}
}
