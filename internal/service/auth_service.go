package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/repository"
	"github.com/prperemyshlev/eduportal-auth/internal/utils"
	"go.uber.org/zap"
)

// Settings configures session and grant lifetimes
type Settings struct {
	SessionTTL       time.Duration
	PasswordResetTTL time.Duration
}

// dummyPassword is hashed once and verified against when a login names an
// unknown account, so that branch costs as much as a real password check
const dummyPassword = "eduportal-timing-equalizer"

// authService implements AuthService interface
type authService struct {
	userRepo    repository.UserRepository
	sessions    repository.SessionStore
	resetGrants repository.SessionStore
	hasher      PasswordHasher
	codec       TokenCodec
	issuer      *tokenIssuer
	settings    Settings
	metrics     *authMetrics
	logger      *zap.Logger

	dummyHashOnce sync.Once
	dummyHash     string
}

// NewAuthService creates a new auth service
func NewAuthService(
	userRepo repository.UserRepository,
	sessions repository.SessionStore,
	resetGrants repository.SessionStore,
	hasher PasswordHasher,
	codec TokenCodec,
	settings Settings,
	logger *zap.Logger,
) AuthService {
	return &authService{
		userRepo:    userRepo,
		sessions:    sessions,
		resetGrants: resetGrants,
		hasher:      hasher,
		codec:       codec,
		issuer:      newTokenIssuer(codec, sessions, settings.SessionTTL),
		settings:    settings,
		metrics:     newAuthMetrics(),
		logger:      logger,
	}
}

// Register creates a local account. No session is opened.
func (s *authService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	email := utils.NormalizeEmail(in.Email)
	if email == "" {
		return nil, fmt.Errorf("email is required: %w", domain.ErrInvalidInput)
	}

	role, err := domain.ParseRole(string(in.Role))
	if err != nil {
		return nil, err
	}

	_, err = s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		return nil, fmt.Errorf("user with email %s: %w", email, domain.ErrAlreadyExists)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check user existence: %w", err)
	}

	user := &domain.User{
		Email: email,
		Name:  displayName(in.Name, email),
		Role:  role,
	}

	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = &hash
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, fmt.Errorf("user with email %s: %w", email, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.Bool("federated_only", !user.HasPassword()),
	)

	return user, nil
}

// Login authenticates with email and password and opens a new session
func (s *authService) Login(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	user, err := s.userRepo.GetByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.equalizeTiming(password)
			s.metrics.login(ctx, resultInvalidCredentials)
			return nil, fmt.Errorf("login: %w", domain.ErrInvalidCredentials)
		}
		s.metrics.login(ctx, resultError)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !user.HasPassword() {
		s.equalizeTiming(password)
		s.metrics.login(ctx, resultInvalidCredentials)
		return nil, fmt.Errorf("login: %w", domain.ErrInvalidCredentials)
	}

	if !s.hasher.Verify(password, *user.PasswordHash) {
		s.metrics.login(ctx, resultInvalidCredentials)
		return nil, fmt.Errorf("login: %w", domain.ErrInvalidCredentials)
	}

	if user.IsSuspended {
		s.metrics.login(ctx, resultForbidden)
		return nil, fmt.Errorf("user %s is suspended: %w", user.ID, domain.ErrForbidden)
	}

	result, err := s.issuer.issue(ctx, user)
	if err != nil {
		s.metrics.login(ctx, resultError)
		return nil, err
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		now := time.Now().UTC()
		user.LastLoginAt = &now
	}

	s.metrics.login(ctx, resultSuccess)
	s.logger.Info("user logged in", zap.String("user_id", user.ID))

	return result, nil
}

// Logout deletes a session. Unknown tokens are ignored.
func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.sessions.Delete(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RefreshAccessToken exchanges a refresh token for a new access token. With
// rotate the old refresh token is consumed and a new one returned; otherwise
// the session TTL is extended and the same token returned.
func (s *authService) RefreshAccessToken(ctx context.Context, refreshToken string, rotate bool) (*domain.TokenPair, error) {
	pair, result, err := s.refresh(ctx, refreshToken, rotate)
	s.metrics.refresh(ctx, rotate, result)
	return pair, err
}

func (s *authService) refresh(ctx context.Context, refreshToken string, rotate bool) (*domain.TokenPair, string, error) {
	userID, err := s.sessions.Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, resultUnauthorized, fmt.Errorf("session: %w", domain.ErrUnauthorized)
		}
		return nil, resultError, fmt.Errorf("failed to get session: %w", err)
	}

	user, state, err := lookupUser(ctx, s.userRepo, userID)
	if err != nil {
		return nil, resultError, err
	}

	if state == userDangling {
		s.logger.Info("deleting session of missing user", zap.String("user_id", userID))
		cleanupErr := s.sessions.Delete(ctx, refreshToken)
		return nil, resultUnauthorized, withCleanup(fmt.Errorf("session owner gone: %w", domain.ErrUnauthorized), cleanupErr)
	}

	if user.IsSuspended {
		s.logger.Info("deleting session of suspended user", zap.String("user_id", userID))
		cleanupErr := s.sessions.Delete(ctx, refreshToken)
		return nil, resultForbidden, withCleanup(fmt.Errorf("user %s is suspended: %w", userID, domain.ErrForbidden), cleanupErr)
	}

	accessToken, err := s.issuer.accessToken(user)
	if err != nil {
		return nil, resultError, err
	}

	if !rotate {
		if err := s.sessions.Refresh(ctx, refreshToken); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, resultUnauthorized, fmt.Errorf("session: %w", domain.ErrUnauthorized)
			}
			return nil, resultError, fmt.Errorf("failed to extend session: %w", err)
		}
		pair := s.issuer.pair(accessToken, refreshToken)
		return &pair, resultSuccess, nil
	}

	// Take is atomic: of two concurrent rotations of the same token only one
	// gets past this point
	if _, err := s.sessions.Take(ctx, refreshToken); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, resultUnauthorized, fmt.Errorf("session: %w", domain.ErrUnauthorized)
		}
		return nil, resultError, fmt.Errorf("failed to consume session: %w", err)
	}
	s.metrics.revoked(ctx, "rotation", 1)

	newToken, err := s.issuer.openSession(ctx, user.ID)
	if err != nil {
		return nil, resultError, err
	}

	s.logger.Debug("refresh token rotated", zap.String("user_id", user.ID))

	pair := s.issuer.pair(accessToken, newToken)
	return &pair, resultSuccess, nil
}

// VerifyToken decodes an access token and re-fetches its user so suspension
// applied after issuance is honoured
func (s *authService) VerifyToken(ctx context.Context, accessToken string) (*domain.User, error) {
	claims, err := s.codec.ValidateToken(accessToken)
	if err != nil {
		return nil, err
	}

	user, err := getUser(ctx, s.userRepo, claims.UserID)
	if err != nil {
		return nil, err
	}

	if user.IsSuspended {
		return nil, fmt.Errorf("user %s is suspended: %w", user.ID, domain.ErrForbidden)
	}

	return user, nil
}

// GetUser returns a user by id
func (s *authService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return getUser(ctx, s.userRepo, userID)
}

// ChangePassword replaces the password after verifying the current one
func (s *authService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, revokeAllSessions bool) error {
	user, err := getUser(ctx, s.userRepo, userID)
	if err != nil {
		return err
	}

	if !user.HasPassword() || !s.hasher.Verify(currentPassword, *user.PasswordHash) {
		return fmt.Errorf("change password: %w", domain.ErrInvalidCredentials)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("user %s: %w", user.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	if revokeAllSessions {
		if _, err := s.revokeAll(ctx, user.ID, "password_change"); err != nil {
			return err
		}
	}

	s.logger.Info("password changed", zap.String("user_id", user.ID), zap.Bool("sessions_revoked", revokeAllSessions))
	return nil
}

// RequestPasswordReset issues a single-use reset grant for the account
func (s *authService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = utils.NormalizeEmail(email)
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("user with email %s: %w", email, domain.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	token, err := storeFreshToken(ctx, s.codec, s.resetGrants, user.ID, s.settings.PasswordResetTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue reset grant: %w", err)
	}

	s.logger.Info("password reset requested", zap.String("user_id", user.ID))
	return token, nil
}

// ResetPassword consumes a reset grant, sets the new password and deletes
// every session of the user
func (s *authService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	userID, err := s.resetGrants.Get(ctx, resetToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("reset grant: %w", domain.ErrUnauthorized)
		}
		return fmt.Errorf("failed to get reset grant: %w", err)
	}

	_, state, err := lookupUser(ctx, s.userRepo, userID)
	if err != nil {
		return err
	}
	if state == userDangling {
		cleanupErr := s.resetGrants.Delete(ctx, resetToken)
		return withCleanup(fmt.Errorf("user %s: %w", userID, domain.ErrNotFound), cleanupErr)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// The grant is consumed before the password is written so that two
	// concurrent resets with the same token cannot both succeed
	if _, err := s.resetGrants.Take(ctx, resetToken); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("reset grant: %w", domain.ErrUnauthorized)
		}
		return fmt.Errorf("failed to consume reset grant: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	if _, err := s.revokeAll(ctx, userID, "password_reset"); err != nil {
		return err
	}

	if n, err := s.resetGrants.DeleteAllForUser(ctx, userID); err != nil {
		s.logger.Warn("failed to purge outstanding reset grants", zap.String("user_id", userID), zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("purged outstanding reset grants", zap.String("user_id", userID), zap.Int("count", n))
	}

	s.logger.Info("password reset", zap.String("user_id", userID))
	return nil
}

// RevokeAllSessions deletes every session of a user
func (s *authService) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	return s.revokeAll(ctx, userID, "revoke_all")
}

// GetActiveSessions lists the live refresh tokens of a user
func (s *authService) GetActiveSessions(ctx context.Context, userID string) ([]string, error) {
	tokens, err := s.sessions.GetAllForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return tokens, nil
}

// GetSessionCount counts the live sessions of a user
func (s *authService) GetSessionCount(ctx context.Context, userID string) (int, error) {
	count, err := s.sessions.CountForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (s *authService) revokeAll(ctx context.Context, userID, reason string) (int, error) {
	n, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.metrics.revoked(ctx, reason, n)
	s.logger.Info("sessions revoked",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Int("count", n),
	)
	return n, nil
}

func (s *authService) equalizeTiming(password string) {
	s.dummyHashOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Warn("failed to prepare dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		s.hasher.Verify(password, s.dummyHash)
	}
}

// displayName trims name and falls back to the email local part
func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return utils.EmailLocalPart(email)
}
