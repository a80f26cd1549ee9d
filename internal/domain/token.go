package domain

import "time"

// TokenClaims represents the decoded payload of an access token
type TokenClaims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Exp    int64  `json:"exp"`
	Iat    int64  `json:"iat"`
}

// TokenPair represents a pair of access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// AuthResult is what a successful login hands back: the user and a fresh session
type AuthResult struct {
	User   *User
	Tokens TokenPair
}

// IsExpired checks if the token is expired
func (tc TokenClaims) IsExpired() bool {
	return time.Now().Unix() > tc.Exp
}
