package dto

import (
	"time"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
)

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"max=200"`
	Role     string `json:"role" binding:"omitempty,oneof=student teacher"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest carries the refresh token when it is not sent as a cookie
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest represents a password change by a signed in user
type ChangePasswordRequest struct {
	CurrentPassword   string `json:"current_password" binding:"required"`
	NewPassword       string `json:"new_password" binding:"required"`
	RevokeAllSessions bool   `json:"revoke_all_sessions"`
}

// ForgotPasswordRequest starts a password reset
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetPasswordRequest completes a password reset
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// LinkAccountRequest links a provider account to the signed in user
type LinkAccountRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state" binding:"required"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	User         UserResponse `json:"user"`
	IsNewUser    bool         `json:"is_new_user,omitempty"`
}

// TokenResponse is returned by the refresh endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// UserResponse represents a user response
type UserResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	Name        string  `json:"name"`
	Role        string  `json:"role"`
	HasPassword bool    `json:"has_password"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	LastLoginAt *string `json:"last_login_at"`
}

// OAuthAccountResponse describes one linked provider account. Provider
// tokens are never returned.
type OAuthAccountResponse struct {
	Provider          string  `json:"provider"`
	ProviderAccountID string  `json:"provider_account_id"`
	Email             *string `json:"email"`
	LinkedAt          string  `json:"linked_at"`
}

// SessionsResponse reports the number of active sessions
type SessionsResponse struct {
	Count int `json:"count"`
}

// RevokeSessionsResponse reports how many sessions were revoked
type RevokeSessionsResponse struct {
	Revoked int `json:"revoked"`
}

// ForgotPasswordResponse acknowledges a reset request. ResetToken is only
// filled outside production, where no mailer is wired.
type ForgotPasswordResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"reset_token,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// NewUserResponse converts a domain user to its API shape
func NewUserResponse(u *domain.User) UserResponse {
	resp := UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        string(u.Role),
		HasPassword: u.HasPassword(),
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   u.UpdatedAt.Format(time.RFC3339),
	}
	if u.LastLoginAt != nil {
		last := u.LastLoginAt.Format(time.RFC3339)
		resp.LastLoginAt = &last
	}
	return resp
}

// NewAuthResponse converts a login result to its API shape
func NewAuthResponse(result *domain.AuthResult) AuthResponse {
	return AuthResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    result.Tokens.TokenType,
		ExpiresIn:    result.Tokens.ExpiresIn,
		User:         NewUserResponse(result.User),
	}
}

// NewTokenResponse converts a token pair to its API shape
func NewTokenResponse(pair *domain.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	}
}

// NewOAuthAccountResponses converts linked accounts to their API shape
func NewOAuthAccountResponses(accounts []*domain.OAuthAccount) []OAuthAccountResponse {
	out := make([]OAuthAccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, OAuthAccountResponse{
			Provider:          a.Provider,
			ProviderAccountID: a.ProviderAccountID,
			Email:             a.Email,
			LinkedAt:          a.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}
