package domain

import (
	"fmt"
	"strings"
	"time"
)

// OAuthTokens is the token bundle returned by a provider after code exchange
type OAuthTokens struct {
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	IDToken      string     `json:"-"`
	TokenType    string     `json:"token_type"`
	Scope        string     `json:"scope"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// OAuthProfile is the identity a provider asserts for the logged in account
type OAuthProfile struct {
	Provider string
	ID       string
	Email    string
	Name     string
}

// Validate checks the fields the linking logic depends on
func (p OAuthProfile) Validate() error {
	if strings.TrimSpace(p.Provider) == "" {
		return fmt.Errorf("oauth profile has no provider: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("oauth profile has no account id: %w", ErrInvalidInput)
	}
	return nil
}

// OAuthAccount links a local user to an account at an external provider
type OAuthAccount struct {
	ID                string      `json:"id" db:"id"`
	UserID            string      `json:"user_id" db:"user_id"`
	Provider          string      `json:"provider" db:"provider"` // google, github
	ProviderAccountID string      `json:"provider_account_id" db:"provider_account_id"`
	Email             *string     `json:"email" db:"email"`
	Tokens            OAuthTokens `json:"tokens"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// OAuthLoginResult is the outcome of a provider callback
type OAuthLoginResult struct {
	AuthResult
	IsNewUser bool
}
