package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/dukerupert/tenantry/internal/model"
	"github.com/dukerupert/tenantry/internal/store"
)

const (
	EmailChangePurpose    = "change_email_address"
	DefaultEmailChangeTTL = 30 * time.Minute
)

// EmailChange is a verified, still applicable email change request.
type EmailChange struct {
	User     *model.User
	OldEmail string
	NewEmail string
}

// EmailChanger runs the confirm-by-link email address change.
type EmailChanger struct {
	users    *store.UserStore
	tokens   *TokenIssuer
	notifier Notifier
	baseURL  string
	ttl      time.Duration
	logger   *slog.Logger
}

func NewEmailChanger(us *store.UserStore, tokens *TokenIssuer, notifier Notifier, baseURL string, ttl time.Duration, logger *slog.Logger) *EmailChanger {
	if ttl <= 0 {
		ttl = DefaultEmailChangeTTL
	}
	return &EmailChanger{
		users:    us,
		tokens:   tokens,
		notifier: notifier,
		baseURL:  baseURL,
		ttl:      ttl,
		logger:   logger,
	}
}

// ConfirmationURL is the link a user follows to confirm a change.
func (c *EmailChanger) ConfirmationURL(token string) string {
	return c.baseURL + "/users/email_addresses/" + url.PathEscape(token) + "/confirmation"
}

// RequestChange issues a confirmation token for moving user to newEmail
// and sends it to the new address.
func (c *EmailChanger) RequestChange(ctx context.Context, user *model.User, newEmail string) (string, error) {
	newEmail = model.NormalizeEmail(newEmail)
	if !ValidEmail(newEmail) {
		return "", ErrInvalidEmail
	}
	if newEmail == user.Email {
		return "", ErrEmailUnchanged
	}
	existing, err := c.users.GetByEmail(newEmail)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", ErrEmailTaken
	}

	token, err := c.tokens.Issue(strconv.FormatInt(user.ID, 10), EmailChangePurpose, map[string]string{
		"old_email": user.Email,
		"new_email": newEmail,
	}, c.ttl)
	if err != nil {
		return "", err
	}

	c.notifier.Notify(ctx, newEmail, NotifyEmailChangeConfirmation, map[string]string{
		"url":       c.ConfirmationURL(token),
		"old_email": user.Email,
		"new_email": newEmail,
	})
	c.logger.Info("email change requested", "user_id", user.ID)
	return token, nil
}

// Verify checks token, that it was issued to current and that current
// still has the email it was issued for.
func (c *EmailChanger) Verify(ctx context.Context, current *model.User, token string) (*EmailChange, error) {
	claims, err := c.tokens.Verify(token, EmailChangePurpose)
	if err != nil {
		return nil, err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidSignature)
	}
	if current == nil || userID != current.ID {
		return nil, ErrNotAuthorized
	}
	oldEmail, newEmail := claims.Param("old_email"), claims.Param("new_email")
	if oldEmail == "" || newEmail == "" {
		return nil, fmt.Errorf("%w: missing params", ErrInvalidSignature)
	}

	user, err := c.users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active() || user.Email != oldEmail {
		return nil, ErrNotFound
	}
	return &EmailChange{User: user, OldEmail: oldEmail, NewEmail: newEmail}, nil
}

// ConfirmChange applies the change named by token on behalf of current and
// notifies the old address.
func (c *EmailChanger) ConfirmChange(ctx context.Context, current *model.User, token string) (*model.User, error) {
	change, err := c.Verify(ctx, current, token)
	if err != nil {
		return nil, err
	}

	// A unique index on email decides races with other sign-ups and changes.
	updated, err := c.users.ChangeEmail(change.User.ID, change.OldEmail, change.NewEmail)
	if errors.Is(err, store.ErrEmailChanged) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.notifier.Notify(ctx, change.OldEmail, NotifyEmailChanged, map[string]string{
		"old_email": change.OldEmail,
		"new_email": change.NewEmail,
	})
	c.logger.Info("email changed", "user_id", updated.ID)
	return updated, nil
}
