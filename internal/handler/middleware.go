package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/service"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
	contextUser   = "user"
)

// AuthMiddleware verifies the bearer access token and adds the user to the
// context. Suspended users are rejected here as well as at refresh time.
func AuthMiddleware(authService service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, logger, errMissingAuthorization)
			return
		}

		// Extract token from "Bearer <token>"
		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			respondError(c, logger, errMalformedAuthorization)
			return
		}

		user, err := authService.VerifyToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, string(user.Role))
		c.Set(contextUser, user)

		c.Next()
	}
}

// RequireRole lets through only users holding one of roles. It must run
// after AuthMiddleware.
func RequireRole(logger *zap.Logger, roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			respondError(c, logger, domain.ErrUnauthorized)
			return
		}
		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}
		respondError(c, logger, domain.ErrForbidden)
	}
}

// CurrentUser returns the user stored by AuthMiddleware
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	v, ok := c.Get(contextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*domain.User)
	return user, ok
}
