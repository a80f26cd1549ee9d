package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prperemyshlev/eduportal-auth/internal/domain"
)

// refreshTokenBytes is the entropy of an opaque refresh token (256 bits)
const refreshTokenBytes = 32

// accessClaims is the JWT payload of an access token
type accessClaims struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager mints and verifies access tokens and mints opaque refresh tokens
type JWTManager struct {
	secret            []byte
	issuer            string
	accessTokenExpiry time.Duration
	now               func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret, issuer string, accessTokenExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:            []byte(secret),
		issuer:            issuer,
		accessTokenExpiry: accessTokenExpiry,
		now:               time.Now,
	}
}

// GenerateAccessToken signs an HS256 token carrying the user id and role
func (j *JWTManager) GenerateAccessToken(userID string, role domain.Role) (string, error) {
	now := j.now().UTC()
	claims := &accessClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// GenerateRefreshToken returns a random URL-safe string. It carries no claims;
// it only means something while the session store maps it to a user.
func (j *JWTManager) GenerateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateToken verifies signature, issuer and expiry and returns the claims.
// Every failure wraps domain.ErrUnauthorized together with the jwt cause.
func (j *JWTManager) ValidateToken(tokenString string) (*domain.TokenClaims, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid access token: %w", domain.ErrUnauthorized, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: invalid access token claims", domain.ErrUnauthorized)
	}

	tokenClaims := &domain.TokenClaims{
		UserID: claims.UserID,
		Role:   claims.Role,
		Exp:    claims.ExpiresAt.Unix(),
	}
	if claims.IssuedAt != nil {
		tokenClaims.Iat = claims.IssuedAt.Unix()
	}

	return tokenClaims, nil
}

// GetAccessTokenExpiry returns the access token expiry duration in seconds
func (j *JWTManager) GetAccessTokenExpiry() int {
	return int(j.accessTokenExpiry.Seconds())
}
