package store

import (
	"errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a one-time record does not exist or was
	// already consumed.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned when a one-time record exists but is past its
	// expiry. The record is deleted before this is returned.
	ErrExpired = errors.New("expired")
	// ErrEmailChanged is returned when a conditional email update finds the
	// user's email no longer matches the expected old value.
	ErrEmailChanged = errors.New("email changed since request")
	// ErrEmailTaken is returned when another user already holds the email.
	ErrEmailTaken = errors.New("email address is already in use")
	// ErrAlreadyMember is returned when adding a user to a team they
	// already belong to.
	ErrAlreadyMember = errors.New("already a member")
)

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func utcNow() time.Time {
	return time.Now().UTC()
}
