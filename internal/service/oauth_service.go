package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/repository"
	"github.com/prperemyshlev/eduportal-auth/internal/utils"
	"go.uber.org/zap"
)

// callbackBranch is how an OAuth callback relates to existing local state
type callbackBranch int

const (
	// branchLinked: the provider account is already linked to a user
	branchLinked callbackBranch = iota
	// branchEmailMatch: no link, but a local user owns the profile email
	branchEmailMatch
	// branchNewUser: neither a link nor a matching email exists
	branchNewUser
)

func (b callbackBranch) String() string {
	switch b {
	case branchLinked:
		return "linked"
	case branchEmailMatch:
		return "email_match"
	case branchNewUser:
		return "new_user"
	}
	return "unknown"
}

// callbackPlan is the resolved branch together with the records it found
type callbackPlan struct {
	branch  callbackBranch
	link    *domain.OAuthAccount
	user    *domain.User
	ownerOK bool // for branchLinked: the link owner still exists
}

// oauthService implements OAuthService interface
type oauthService struct {
	userRepo  repository.UserRepository
	oauthRepo repository.OAuthAccountRepository
	issuer    *tokenIssuer
	metrics   *authMetrics
	logger    *zap.Logger
}

// NewOAuthService creates a new federated identity service. Sessions are
// issued exactly as for a local login.
func NewOAuthService(
	userRepo repository.UserRepository,
	oauthRepo repository.OAuthAccountRepository,
	sessions repository.SessionStore,
	codec TokenCodec,
	settings Settings,
	logger *zap.Logger,
) OAuthService {
	return &oauthService{
		userRepo:  userRepo,
		oauthRepo: oauthRepo,
		issuer:    newTokenIssuer(codec, sessions, settings.SessionTTL),
		metrics:   newAuthMetrics(),
		logger:    logger,
	}
}

// HandleCallback signs in through a provider, linking or creating the local
// account as needed
func (s *oauthService) HandleCallback(ctx context.Context, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthLoginResult, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	profile.Email = utils.NormalizeEmail(profile.Email)

	plan, err := s.resolve(ctx, profile)
	if err != nil {
		s.metrics.oauthCallback(ctx, profile.Provider, "unresolved", resultError)
		return nil, err
	}

	result, err := s.apply(ctx, plan, profile, tokens)
	s.metrics.oauthCallback(ctx, profile.Provider, plan.branch.String(), callbackResult(err))
	return result, err
}

// resolve picks the branch without mutating anything
func (s *oauthService) resolve(ctx context.Context, profile domain.OAuthProfile) (*callbackPlan, error) {
	link, err := s.oauthRepo.GetByProvider(ctx, profile.Provider, profile.ID)
	switch {
	case err == nil:
		user, state, err := lookupUser(ctx, s.userRepo, link.UserID)
		if err != nil {
			return nil, err
		}
		return &callbackPlan{branch: branchLinked, link: link, user: user, ownerOK: state == userFound}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to get oauth account: %w", err)
	}

	if profile.Email != "" {
		user, err := s.userRepo.GetByEmail(ctx, profile.Email)
		if err == nil {
			return &callbackPlan{branch: branchEmailMatch, user: user}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to get user by email: %w", err)
		}
	}

	return &callbackPlan{branch: branchNewUser}, nil
}

func (s *oauthService) apply(ctx context.Context, plan *callbackPlan, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthLoginResult, error) {
	switch plan.branch {
	case branchLinked:
		return s.signInLinked(ctx, plan, tokens)
	case branchEmailMatch:
		return s.signInByEmail(ctx, plan.user, profile, tokens)
	default:
		return s.signUp(ctx, profile, tokens)
	}
}

func (s *oauthService) signInLinked(ctx context.Context, plan *callbackPlan, tokens domain.OAuthTokens) (*domain.OAuthLoginResult, error) {
	if !plan.ownerOK {
		s.logger.Info("deleting oauth link of missing user",
			zap.String("user_id", plan.link.UserID),
			zap.String("provider", plan.link.Provider),
		)
		cleanupErr := s.oauthRepo.Delete(ctx, plan.link.ID)
		if errors.Is(cleanupErr, repository.ErrNotFound) {
			cleanupErr = nil
		}
		return nil, withCleanup(fmt.Errorf("user %s: %w", plan.link.UserID, domain.ErrNotFound), cleanupErr)
	}

	if plan.user.IsSuspended {
		return nil, fmt.Errorf("user %s is suspended: %w", plan.user.ID, domain.ErrForbidden)
	}

	if err := s.oauthRepo.UpdateTokens(ctx, plan.link.ID, tokens); err != nil {
		return nil, fmt.Errorf("failed to update oauth tokens: %w", err)
	}

	return s.signIn(ctx, plan.user, false)
}

func (s *oauthService) signInByEmail(ctx context.Context, user *domain.User, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthLoginResult, error) {
	// A federated identity claiming the email of a password-protected account
	// must be linked explicitly by the owner
	if user.HasPassword() {
		return nil, fmt.Errorf("email %s belongs to a password account: %w", profile.Email, domain.ErrInvalidCredentials)
	}

	if user.IsSuspended {
		return nil, fmt.Errorf("user %s is suspended: %w", user.ID, domain.ErrForbidden)
	}

	if err := s.createLink(ctx, user.ID, profile, tokens); err != nil {
		return nil, err
	}

	return s.signIn(ctx, user, false)
}

func (s *oauthService) signUp(ctx context.Context, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthLoginResult, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("%s profile has no email: %w", profile.Provider, domain.ErrInvalidInput)
	}

	user := &domain.User{
		Email: profile.Email,
		Name:  displayName(profile.Name, profile.Email),
		Role:  domain.RoleStudent,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, fmt.Errorf("user with email %s: %w", profile.Email, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.createLink(ctx, user.ID, profile, tokens); err != nil {
		// another callback for the same provider account won the race; drop
		// the user created above so it does not linger without a sign-in method
		if delErr := s.userRepo.Delete(ctx, user.ID); delErr != nil {
			s.logger.Warn("failed to delete unlinked user", zap.String("user_id", user.ID), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("user registered via oauth",
		zap.String("user_id", user.ID),
		zap.String("provider", profile.Provider),
	)

	return s.signIn(ctx, user, true)
}

func (s *oauthService) signIn(ctx context.Context, user *domain.User, isNew bool) (*domain.OAuthLoginResult, error) {
	result, err := s.issuer.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return &domain.OAuthLoginResult{AuthResult: *result, IsNewUser: isNew}, nil
}

func (s *oauthService) createLink(ctx context.Context, userID string, profile domain.OAuthProfile, tokens domain.OAuthTokens) error {
	account := newOAuthAccount(userID, profile, tokens)
	if err := s.oauthRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateOAuthAccount) {
			return fmt.Errorf("%s account %s: %w", profile.Provider, profile.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create oauth account: %w", err)
	}
	return nil
}

// LinkOAuthAccount attaches a provider account to an existing user
func (s *oauthService) LinkOAuthAccount(ctx context.Context, userID string, profile domain.OAuthProfile, tokens domain.OAuthTokens) (*domain.OAuthAccount, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	profile.Email = utils.NormalizeEmail(profile.Email)

	if _, err := getUser(ctx, s.userRepo, userID); err != nil {
		return nil, err
	}

	has, err := s.oauthRepo.HasProvider(ctx, userID, profile.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to check oauth provider: %w", err)
	}
	if has {
		return nil, fmt.Errorf("user %s already linked %s: %w", userID, profile.Provider, domain.ErrAlreadyExists)
	}

	_, err = s.oauthRepo.GetByProvider(ctx, profile.Provider, profile.ID)
	if err == nil {
		return nil, fmt.Errorf("%s account %s is linked: %w", profile.Provider, profile.ID, domain.ErrAlreadyExists)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get oauth account: %w", err)
	}

	account := newOAuthAccount(userID, profile, tokens)
	if err := s.oauthRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateOAuthAccount) {
			return nil, fmt.Errorf("%s account %s: %w", profile.Provider, profile.ID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create oauth account: %w", err)
	}

	s.logger.Info("oauth account linked", zap.String("user_id", userID), zap.String("provider", profile.Provider))
	return account, nil
}

// UnlinkOAuthAccount removes a provider link unless it is the user's last way
// to sign in. The guard and the delete are one store operation.
func (s *oauthService) UnlinkOAuthAccount(ctx context.Context, userID, provider string) error {
	if _, err := getUser(ctx, s.userRepo, userID); err != nil {
		return err
	}

	err := s.oauthRepo.DeleteUnlessLastSignIn(ctx, userID, provider)
	switch {
	case errors.Is(err, repository.ErrLastSignInMethod):
		return fmt.Errorf("%s is the last sign-in method of user %s: %w", provider, userID, domain.ErrInvalidCredentials)
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s account of user %s: %w", provider, userID, domain.ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to delete oauth account: %w", err)
	}

	s.logger.Info("oauth account unlinked", zap.String("user_id", userID), zap.String("provider", provider))
	return nil
}

// GetUserOAuthAccounts lists the links of a user
func (s *oauthService) GetUserOAuthAccounts(ctx context.Context, userID string) ([]*domain.OAuthAccount, error) {
	accounts, err := s.oauthRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth accounts: %w", err)
	}
	return accounts, nil
}

// HasOAuthProvider reports whether the user linked provider
func (s *oauthService) HasOAuthProvider(ctx context.Context, userID, provider string) (bool, error) {
	has, err := s.oauthRepo.HasProvider(ctx, userID, provider)
	if err != nil {
		return false, fmt.Errorf("failed to check oauth provider: %w", err)
	}
	return has, nil
}

// GetOAuthAccount returns the link a user holds at provider
func (s *oauthService) GetOAuthAccount(ctx context.Context, userID, provider string) (*domain.OAuthAccount, error) {
	account, err := s.oauthRepo.GetByUserIDAndProvider(ctx, userID, provider)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s account of user %s: %w", provider, userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get oauth account: %w", err)
	}
	return account, nil
}

// RefreshOAuthTokens stores a new provider token bundle on an existing link
func (s *oauthService) RefreshOAuthTokens(ctx context.Context, userID, provider string, tokens domain.OAuthTokens) (*domain.OAuthAccount, error) {
	account, err := s.GetOAuthAccount(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	if err := s.oauthRepo.UpdateTokens(ctx, account.ID, tokens); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s account of user %s: %w", provider, userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update oauth tokens: %w", err)
	}

	account.Tokens = tokens
	return account, nil
}

func newOAuthAccount(userID string, profile domain.OAuthProfile, tokens domain.OAuthTokens) *domain.OAuthAccount {
	account := &domain.OAuthAccount{
		UserID:            userID,
		Provider:          profile.Provider,
		ProviderAccountID: profile.ID,
		Tokens:            tokens,
	}
	if profile.Email != "" {
		email := profile.Email
		account.Email = &email
	}
	return account
}

func callbackResult(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, domain.ErrInvalidCredentials):
		return resultInvalidCredentials
	case errors.Is(err, domain.ErrForbidden):
		return resultForbidden
	case errors.Is(err, domain.ErrNotFound):
		return resultNotFound
	}
	return resultError
}
