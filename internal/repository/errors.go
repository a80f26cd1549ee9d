package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Common repository errors
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned when trying to create a user with an existing email
	ErrDuplicateEmail = errors.New("user with this email already exists")

	// ErrDuplicateToken is returned when a session key is already taken
	ErrDuplicateToken = errors.New("session token already exists")

	// ErrDuplicateOAuthAccount is returned when a provider account or a (user, provider)
	// pair is already linked
	ErrDuplicateOAuthAccount = errors.New("oauth account already linked")

	// ErrLastSignInMethod is returned when removing a link would leave a
	// password-less user with no way to sign in
	ErrLastSignInMethod = errors.New("last sign-in method")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
