package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/repository"
	"github.com/prperemyshlev/eduportal-auth/internal/utils"
	"github.com/prperemyshlev/eduportal-auth/pkg/database"
)

const (
	testSecret     = "0123456789abcdef0123456789abcdef"
	testSessionTTL = 7 * 24 * time.Hour
	testResetTTL   = time.Hour
)

// memUserRepo is an in-memory UserRepository with the same uniqueness rules
// as the SQL schema
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *memUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = &passwordHash
	return nil
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) setSuspended(id string, suspended bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].IsSuspended = suspended
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	if u.PasswordHash != nil {
		h := *u.PasswordHash
		c.PasswordHash = &h
	}
	return &c
}

// memOAuthRepo is an in-memory OAuthAccountRepository
type memOAuthRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.OAuthAccount
	users    *memUserRepo
}

func newMemOAuthRepo(users *memUserRepo) *memOAuthRepo {
	return &memOAuthRepo{accounts: make(map[string]*domain.OAuthAccount), users: users}
}

func (r *memOAuthRepo) Create(_ context.Context, account *domain.OAuthAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if (a.Provider == account.Provider && a.ProviderAccountID == account.ProviderAccountID) ||
			(a.UserID == account.UserID && a.Provider == account.Provider) {
			return repository.ErrDuplicateOAuthAccount
		}
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	c := *account
	r.accounts[account.ID] = &c
	return nil
}

func (r *memOAuthRepo) GetByProvider(_ context.Context, provider, providerAccountID string) (*domain.OAuthAccount, error) {
	return r.find(func(a *domain.OAuthAccount) bool {
		return a.Provider == provider && a.ProviderAccountID == providerAccountID
	})
}

func (r *memOAuthRepo) GetByUserIDAndProvider(_ context.Context, userID, provider string) (*domain.OAuthAccount, error) {
	return r.find(func(a *domain.OAuthAccount) bool {
		return a.UserID == userID && a.Provider == provider
	})
}

func (r *memOAuthRepo) GetByUserID(_ context.Context, userID string) ([]*domain.OAuthAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.OAuthAccount
	for _, a := range r.accounts {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memOAuthRepo) UpdateTokens(_ context.Context, id string, tokens domain.OAuthTokens) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Tokens = tokens
	return nil
}

func (r *memOAuthRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *memOAuthRepo) DeleteByUserIDAndProvider(_ context.Context, userID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range r.accounts {
		if a.UserID == userID && a.Provider == provider {
			delete(r.accounts, id)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memOAuthRepo) DeleteUnlessLastSignIn(ctx context.Context, userID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	var target string
	links := 0
	for id, a := range r.accounts {
		if a.UserID != userID {
			continue
		}
		links++
		if a.Provider == provider {
			target = id
		}
	}
	if target == "" {
		return repository.ErrNotFound
	}
	if !user.HasPassword() && links <= 1 {
		return repository.ErrLastSignInMethod
	}
	delete(r.accounts, target)
	return nil
}

func (r *memOAuthRepo) CountByUserID(_ context.Context, userID string) (int, error) {
	accounts, _ := r.GetByUserID(context.Background(), userID)
	return len(accounts), nil
}

func (r *memOAuthRepo) HasProvider(ctx context.Context, userID, provider string) (bool, error) {
	_, err := r.GetByUserIDAndProvider(ctx, userID, provider)
	return err == nil, nil
}

func (r *memOAuthRepo) find(match func(*domain.OAuthAccount) bool) (*domain.OAuthAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if match(a) {
			c := *a
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

// testEnv wires both services over in-memory credential stores and a
// miniredis-backed session store
type testEnv struct {
	users    *memUserRepo
	oauth    *memOAuthRepo
	sessions *repository.RedisSessionStore
	resets   *repository.RedisSessionStore
	codec    *utils.JWTManager
	auth     AuthService
	fed      OAuthService
	mr       *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	users := newMemUserRepo()
	env := &testEnv{
		users:    users,
		oauth:    newMemOAuthRepo(users),
		sessions: repository.NewRedisSessionStore(client, "session", testSessionTTL),
		resets:   repository.NewRedisSessionStore(client, "password_reset", testResetTTL),
		codec:    utils.NewJWTManager(testSecret, "eduportal-test", 15*time.Minute),
		mr:       mr,
	}

	settings := Settings{SessionTTL: testSessionTTL, PasswordResetTTL: testResetTTL}
	hasher := utils.NewBcryptHasher(bcrypt.MinCost)
	logger := zap.NewNop()

	env.auth = NewAuthService(env.users, env.sessions, env.resets, hasher, env.codec, settings, logger)
	env.fed = NewOAuthService(env.users, env.oauth, env.sessions, env.codec, settings, logger)
	return env
}

// newRedisForTest returns a database.Redis handle on a fresh miniredis
func newRedisForTest(t *testing.T) (*database.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &database.Redis{Client: client}, mr
}

func strPtr(s string) *string { return &s }

func (e *testEnv) register(t *testing.T, email, password string, role domain.Role) *domain.User {
	t.Helper()
	var pw *string
	if password != "" {
		pw = strPtr(password)
	}
	user, err := e.auth.Register(context.Background(), RegisterInput{Email: email, Password: pw, Name: "Test", Role: role})
	require.NoError(t, err)
	return user
}
