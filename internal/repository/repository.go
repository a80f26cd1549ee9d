package repository

import (
	"time"

	"github.com/prperemyshlev/eduportal-auth/pkg/database"
)

const (
	sessionPrefix       = "session"
	passwordResetPrefix = "password_reset"
)

// Repositories holds all repository interfaces
type Repositories struct {
	User           UserRepository
	OAuthAccount   OAuthAccountRepository
	Sessions       SessionStore
	PasswordResets SessionStore
}

// NewRepositories creates all repositories. Sessions and password reset grants
// share the Redis store implementation under separate key prefixes.
func NewRepositories(db *database.Postgres, redis *database.Redis, sessionTTL, resetTTL time.Duration) *Repositories {
	return &Repositories{
		User:           NewUserRepository(db),
		OAuthAccount:   NewOAuthAccountRepository(db),
		Sessions:       NewRedisSessionStore(redis.Client, sessionPrefix, sessionTTL),
		PasswordResets: NewRedisSessionStore(redis.Client, passwordResetPrefix, resetTTL),
	}
}
