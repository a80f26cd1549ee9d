package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/repository"
)

const (
	tokenTypeBearer = "Bearer"

	// maxTokenAttempts bounds retries when a freshly minted opaque token
	// collides with a live key
	maxTokenAttempts = 3
)

// tokenIssuer mints access tokens and persists opaque tokens in a session store.
// Local login and OAuth callbacks issue sessions through the same code.
type tokenIssuer struct {
	codec      TokenCodec
	sessions   repository.SessionStore
	sessionTTL time.Duration
}

func newTokenIssuer(codec TokenCodec, sessions repository.SessionStore, sessionTTL time.Duration) *tokenIssuer {
	return &tokenIssuer{
		codec:      codec,
		sessions:   sessions,
		sessionTTL: sessionTTL,
	}
}

// issue mints an access token and opens a brand new session for user
func (i *tokenIssuer) issue(ctx context.Context, user *domain.User) (*domain.AuthResult, error) {
	accessToken, err := i.accessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := i.openSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &domain.AuthResult{
		User:   user,
		Tokens: i.pair(accessToken, refreshToken),
	}, nil
}

func (i *tokenIssuer) accessToken(user *domain.User) (string, error) {
	token, err := i.codec.GenerateAccessToken(user.ID, user.Role)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return token, nil
}

func (i *tokenIssuer) openSession(ctx context.Context, userID string) (string, error) {
	return storeFreshToken(ctx, i.codec, i.sessions, userID, i.sessionTTL)
}

func (i *tokenIssuer) pair(accessToken, refreshToken string) domain.TokenPair {
	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    i.codec.GetAccessTokenExpiry(),
	}
}

// storeFreshToken mints an opaque token and stores it for userID, retrying on
// the unlikely event of a key collision
func storeFreshToken(ctx context.Context, codec TokenCodec, store repository.SessionStore, userID string, ttl time.Duration) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := codec.GenerateRefreshToken()
		if err != nil {
			return "", fmt.Errorf("failed to generate opaque token: %w", err)
		}

		err = store.Create(ctx, token, userID, ttl)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, repository.ErrDuplicateToken) {
			return "", fmt.Errorf("failed to save token: %w", err)
		}
	}

	return "", fmt.Errorf("failed to allocate a unique token after %d attempts", maxTokenAttempts)
}
