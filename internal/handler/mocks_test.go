package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/service"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Register(ctx context.Context, in service.RegisterInput) (*domain.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuthResult), args.Error(1)
}

func (m *mockAuthService) Logout(ctx context.Context, refreshToken string) error {
	return m.Called(ctx, refreshToken).Error(0)
}

func (m *mockAuthService) RefreshAccessToken(ctx context.Context, refreshToken string, rotate bool) (*domain.TokenPair, error) {
	args := m.Called(ctx, refreshToken, rotate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenPair), args.Error(1)
}

func (m *mockAuthService) VerifyToken(ctx context.Context, accessToken string) (*domain.User, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockAuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockAuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, revokeAllSessions bool) error {
	return m.Called(ctx, userID, currentPassword, newPassword, revokeAllSessions).Error(0)
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockAuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	return m.Called(ctx, resetToken, newPassword).Error(0)
}

func (m *mockAuthService) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockAuthService) GetActiveSessions(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockAuthService) GetSessionCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type mockOAuthService struct {
	mock.Mock
}

func (m *mockOAuthService) HandleCallback(ctx context.Context, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthLoginResult, error) {
	args := m.Called(ctx, profile, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OAuthLoginResult), args.Error(1)
}

func (m *mockOAuthService) LinkOAuthAccount(ctx context.Context, userID string, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthAccount, error) {
	args := m.Called(ctx, userID, profile, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OAuthAccount), args.Error(1)
}

func (m *mockOAuthService) UnlinkOAuthAccount(ctx context.Context, userID, provider string) error {
	return m.Called(ctx, userID, provider).Error(0)
}

func (m *mockOAuthService) GetUserOAuthAccounts(ctx context.Context, userID string) ([]*domain.OAuthAccount, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OAuthAccount), args.Error(1)
}

func (m *mockOAuthService) HasOAuthProvider(ctx context.Context, userID, provider string) (bool, error) {
	args := m.Called(ctx, userID, provider)
	return args.Bool(0), args.Error(1)
}

func (m *mockOAuthService) GetOAuthAccount(ctx context.Context, userID, provider string) (*domain.OAuthAccount, error) {
	args := m.Called(ctx, userID, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OAuthAccount), args.Error(1)
}

func (m *mockOAuthService) RefreshOAuthTokens(ctx context.Context, userID, provider string, tokens domain.OAuthTokens) (*domain.OAuthAccount, error) {
	args := m.Called(ctx, userID, provider, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OAuthAccount), args.Error(1)
}

// stubProvider is an oauth.Provider with canned exchange results
type stubProvider struct {
	name    string
	profile domain.OAuthProfile
	tokens  domain.OAuthTokens
	err     error
	codes   []string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://provider.test/auth?state=" + state
}

func (p *stubProvider) Exchange(_ context.Context, code string) (domain.OAuthProfile, domain.OAuthTokens, error) {
	p.codes = append(p.codes, code)
	return p.profile, p.tokens, p.err
}
