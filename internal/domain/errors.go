package domain

import "errors"

// Error kinds surfaced by the auth services. Callers classify with errors.Is.
var (
	// ErrAlreadyExists is a uniqueness violation: duplicate email or duplicate federated link
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials covers wrong passwords, password login on a federated-only
	// account, email takeover attempts and unlinking the last sign-in method
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotFound is returned when a referenced user, grant or link does not exist
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned for suspended accounts
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized is returned for unknown or expired session tokens and for
	// access tokens that fail verification
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput is returned for malformed input such as an unknown role
	ErrInvalidInput = errors.New("invalid input")
)
