package service

import (
	"context"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
)

// PasswordHasher is the one-way password primitive
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// TokenCodec mints and verifies access tokens and mints opaque refresh tokens
type TokenCodec interface {
	GenerateAccessToken(userID string, role domain.Role) (string, error)
	ValidateToken(token string) (*domain.TokenClaims, error)
	GenerateRefreshToken() (string, error)
	GetAccessTokenExpiry() int
}

// RegisterInput describes a new local account. A nil Password creates a
// federated-only account.
type RegisterInput struct {
	Email    string
	Password *string
	Name     string
	Role     domain.Role
}

// AuthService defines methods for authentication and session lifecycle operations
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	RefreshAccessToken(ctx context.Context, refreshToken string, rotate bool) (*domain.TokenPair, error)
	VerifyToken(ctx context.Context, accessToken string) (*domain.User, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, revokeAllSessions bool) error
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, resetToken, newPassword string) error

	RevokeAllSessions(ctx context.Context, userID string) (int, error)
	GetActiveSessions(ctx context.Context, userID string) ([]string, error)
	GetSessionCount(ctx context.Context, userID string) (int, error)
}

// OAuthService defines methods for federated identity operations
type OAuthService interface {
	HandleCallback(ctx context.Context, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthLoginResult, error)
	LinkOAuthAccount(ctx context.Context, userID string, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthAccount, error)
	UnlinkOAuthAccount(ctx context.Context, userID, provider string) error

	GetUserOAuthAccounts(ctx context.Context, userID string) ([]*domain.OAuthAccount, error)
	HasOAuthProvider(ctx context.Context, userID, provider string) (bool, error)
	GetOAuthAccount(ctx context.Context, userID, provider string) (*domain.OAuthAccount, error)
	RefreshOAuthTokens(ctx context.Context, userID, provider string, tokens domain.OAuthTokens) (*domain.OAuthAccount, error)
}
