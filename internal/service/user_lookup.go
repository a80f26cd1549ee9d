package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/repository"
)

// userLookup is the outcome of resolving a user id referenced by a session or
// a federated link
type userLookup int

const (
	userFound userLookup = iota
	// userDangling means the reference points at a user that no longer exists
	userDangling
)

// lookupUser resolves id. A missing user is a result, not an error; the
// returned error is reserved for store failures.
func lookupUser(ctx context.Context, users repository.UserRepository, id string) (*domain.User, userLookup, error) {
	user, err := users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, userDangling, nil
		}
		return nil, userDangling, fmt.Errorf("failed to get user: %w", err)
	}
	return user, userFound, nil
}

// getUser fetches a user, translating a missing row into domain.ErrNotFound
func getUser(ctx context.Context, users repository.UserRepository, id string) (*domain.User, error) {
	user, state, err := lookupUser(ctx, users, id)
	if err != nil {
		return nil, err
	}
	if state == userDangling {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return user, nil
}

// withCleanup returns kind, joined with the cleanup failure if there was one
func withCleanup(kind error, cleanupErr error) error {
	if cleanupErr == nil {
		return kind
	}
	return fmt.Errorf("%w (cleanup failed: %w)", kind, cleanupErr)
}
