package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/dto"
	"github.com/prperemyshlev/eduportal-auth/internal/oauth"
	"github.com/prperemyshlev/eduportal-auth/internal/service"
)

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, oauth.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, oauth.ErrExchangeFailed):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing message of an error kind. Wrapped
// details such as ids and emails stay in the logs.
func messageFor(err error, status int) string {
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		return "internal error"
	case status == http.StatusBadGateway:
		return "identity provider request failed"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, domain.ErrUnauthorized):
		return "authentication required"
	case errors.Is(err, oauth.ErrUnknownProvider):
		return "unknown identity provider"
	case errors.Is(err, domain.ErrNotFound):
		return "resource not found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return "resource already exists"
	case errors.Is(err, domain.ErrForbidden):
		return "access denied"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid request"
	case errors.Is(err, service.ErrRateLimitExceeded):
		return "rate limit exceeded"
	}
	return http.StatusText(status)
}

// respondError writes err as an ErrorResponse with a fixed message per kind
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)

	switch {
	case status == http.StatusBadGateway:
		logger.Warn("identity provider failed", zap.Error(err))
	case status >= http.StatusInternalServerError:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	default:
		logger.Debug("request rejected",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Error:   http.StatusText(status),
		Message: messageFor(err, status),
	})
}

// respondValidation writes a 400 for a malformed request body
func respondValidation(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Validation failed",
		Message: err.Error(),
	})
}

var (
	errMissingAuthorization   = fmt.Errorf("authorization header is required: %w", domain.ErrUnauthorized)
	errMalformedAuthorization = fmt.Errorf("invalid authorization header format: %w", domain.ErrUnauthorized)
)
