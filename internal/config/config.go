package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Server   ServerConfig   `env:",prefix=SERVER_"`
	Postgres PostgresConfig `env:",prefix=POSTGRES_"`
	Redis    RedisConfig    `env:",prefix=REDIS_"`
	JWT      JWTConfig      `env:",prefix=JWT_"`
	Security SecurityConfig `env:",prefix="`
	Auth     AuthConfig     `env:",prefix=AUTH_"`
	OAuth    OAuthConfig    `env:",prefix=OAUTH_"`
	CORS     CORSConfig     `env:",prefix=CORS_"`
	Env      string         `env:"ENV,default=development"`
	LogLevel string         `env:"LOG_LEVEL,default=info"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=15s"`
}

type PostgresConfig struct {
	Host            string   `env:"HOST,default=localhost"`
	Port            string   `env:"PORT,default=5432"`
	User            string   `env:"USER,default=eduportal"`
	Password        string   `env:"PASSWORD,default=eduportal_password"`
	DBName          string   `env:"DB,default=eduportal_auth"`
	SSLMode         string   `env:"SSLMODE,default=disable"`
	MaxOpenConns    int      `env:"MAX_OPEN_CONNS,default=25"`
	MaxIdleConns    int      `env:"MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime Duration `env:"CONN_MAX_LIFETIME,default=30m"`
}

type RedisConfig struct {
	Host        string   `env:"HOST,default=localhost"`
	Port        string   `env:"PORT,default=6379"`
	Password    string   `env:"PASSWORD,default="`
	DB          int      `env:"DB,default=0"`
	PoolSize    int      `env:"POOL_SIZE,default=10"`
	DialTimeout Duration `env:"DIAL_TIMEOUT,default=5s"`
}

type JWTConfig struct {
	Secret             string   `env:"SECRET,required"`
	Issuer             string   `env:"ISSUER,default=eduportal-auth"`
	AccessTokenExpiry  Duration `env:"ACCESS_TOKEN_EXPIRY,default=15m"`
	RefreshTokenExpiry Duration `env:"REFRESH_TOKEN_EXPIRY,default=7d"`
}

type SecurityConfig struct {
	BCryptCost        int      `env:"BCRYPT_COST,default=12"`
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=10"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
}

// AuthConfig tunes session lifecycle behaviour
type AuthConfig struct {
	PasswordResetExpiry Duration `env:"PASSWORD_RESET_EXPIRY,default=1h"`
	RotateRefreshTokens bool     `env:"ROTATE_REFRESH_TOKENS,default=true"`
}

// OAuthConfig holds per-provider client credentials. A provider with an empty
// client id is disabled.
type OAuthConfig struct {
	Google OAuthProviderConfig `env:",prefix=GOOGLE_"`
	GitHub OAuthProviderConfig `env:",prefix=GITHUB_"`
}

type OAuthProviderConfig struct {
	ClientID     string `env:"CLIENT_ID,default="`
	ClientSecret string `env:"CLIENT_SECRET,default="`
	RedirectURL  string `env:"REDIRECT_URL,default="`
}

// Enabled reports whether the provider has credentials configured
func (o OAuthProviderConfig) Enabled() bool {
	return o.ClientID != ""
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if c.Security.BCryptCost < bcrypt.MinCost || c.Security.BCryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.JWT.AccessTokenExpiry.Duration <= 0 || c.JWT.RefreshTokenExpiry.Duration <= 0 {
		return fmt.Errorf("JWT token expiries must be positive")
	}

	if c.Auth.PasswordResetExpiry.Duration <= 0 {
		return fmt.Errorf("AUTH_PASSWORD_RESET_EXPIRY must be positive")
	}

	return nil
}
