package repository

import (
	"context"
	"time"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
)

// UserRepository is the credential store
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string) error
	Delete(ctx context.Context, id string) error
}

// OAuthAccountRepository is the federated identity store
type OAuthAccountRepository interface {
	Create(ctx context.Context, account *domain.OAuthAccount) error
	GetByProvider(ctx context.Context, provider, providerAccountID string) (*domain.OAuthAccount, error)
	GetByUserIDAndProvider(ctx context.Context, userID, provider string) (*domain.OAuthAccount, error)
	GetByUserID(ctx context.Context, userID string) ([]*domain.OAuthAccount, error)
	UpdateTokens(ctx context.Context, id string, tokens domain.OAuthTokens) error
	Delete(ctx context.Context, id string) error
	DeleteByUserIDAndProvider(ctx context.Context, userID, provider string) error
	// DeleteUnlessLastSignIn is DeleteByUserIDAndProvider guarded against
	// removing the only sign-in method of a password-less user
	DeleteUnlessLastSignIn(ctx context.Context, userID, provider string) error
	CountByUserID(ctx context.Context, userID string) (int, error)
	HasProvider(ctx context.Context, userID, provider string) (bool, error)
}

// SessionStore maps opaque tokens to user ids with a TTL. Every method is a
// single atomic operation against the backing store.
type SessionStore interface {
	// Get returns the owning user id or ErrNotFound
	Get(ctx context.Context, token string) (string, error)
	// Create stores a new token; ErrDuplicateToken if the key is taken
	Create(ctx context.Context, token, userID string, ttl time.Duration) error
	// Refresh resets the token TTL to the store default; ErrNotFound if gone
	Refresh(ctx context.Context, token string) error
	// Delete removes a token. Deleting a missing token is not an error.
	Delete(ctx context.Context, token string) error
	// Take deletes a token and returns its owner; ErrNotFound if it was already gone
	Take(ctx context.Context, token string) (string, error)
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	GetAllForUser(ctx context.Context, userID string) ([]string, error)
	CountForUser(ctx context.Context, userID string) (int, error)
}
