package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/dto"
	"github.com/prperemyshlev/eduportal-auth/internal/service"
	"github.com/prperemyshlev/eduportal-auth/internal/utils"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/v1/auth"

	passwordPolicyMessage = "password must be at least 8 characters and contain upper case, lower case and a digit"
)

// AuthHandlerOptions tunes session handling at the HTTP edge
type AuthHandlerOptions struct {
	RotateRefreshTokens bool
	RefreshTokenTTL     time.Duration
	SecureCookies       bool
	// ExposeResetToken returns reset tokens in the response body. Only for
	// environments without a mailer.
	ExposeResetToken bool
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService service.AuthService
	logger      *zap.Logger
	opts        AuthHandlerOptions
	cookie      refreshCookie
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService service.AuthService, logger *zap.Logger, opts AuthHandlerOptions) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
		opts:        opts,
		cookie:      refreshCookie{ttl: opts.RefreshTokenTTL, secure: opts.SecureCookies},
	}
}

// Register handles user registration
// @Summary Register a new user
// @Description Register a new student or teacher account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RegisterRequest true "Registration request"
// @Success 201 {object} dto.UserResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}
	if !utils.ValidatePassword(req.Password) {
		respondValidation(c, errors.New(passwordPolicyMessage))
		return
	}

	user, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: &req.Password,
		Name:     req.Name,
		Role:     domain.Role(req.Role),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewUserResponse(user))
}

// Login handles user login
// @Summary Login user
// @Description Authenticate user with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "Login request"
// @Success 200 {object} dto.AuthResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.cookie.set(c, result.Tokens.RefreshToken)
	c.JSON(http.StatusOK, dto.NewAuthResponse(result))
}

// Refresh handles token refresh
// @Summary Refresh tokens
// @Description Exchange a refresh token for a new access token. The refresh
// @Description token is read from the body or the refresh_token cookie.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RefreshRequest false "Refresh request"
// @Success 200 {object} dto.TokenResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken := h.refreshToken(c)
	if refreshToken == "" {
		respondValidation(c, errors.New("refresh token not found in body or cookie"))
		return
	}

	pair, err := h.authService.RefreshAccessToken(c.Request.Context(), refreshToken, h.opts.RotateRefreshTokens)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrForbidden) {
			h.cookie.clear(c)
		}
		respondError(c, h.logger, err)
		return
	}

	h.cookie.set(c, pair.RefreshToken)
	c.JSON(http.StatusOK, dto.NewTokenResponse(pair))
}

// Logout handles user logout
// @Summary Logout user
// @Description End the session identified by the refresh token
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.RefreshRequest false "Logout request"
// @Success 200 {object} dto.SuccessResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if refreshToken := h.refreshToken(c); refreshToken != "" {
		if err := h.authService.Logout(c.Request.Context(), refreshToken); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	h.cookie.clear(c)
	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Logged out successfully",
	})
}

// GetMe handles getting current user profile
// @Summary Get current user profile
// @Description Get information about the current authenticated user
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.UserResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) GetMe(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserResponse(user))
}

// GetSessions reports the caller's active session count
// @Summary Count active sessions
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.SessionsResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/sessions [get]
func (h *AuthHandler) GetSessions(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthorized)
		return
	}

	count, err := h.authService.GetSessionCount(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SessionsResponse{Count: count})
}

// RevokeSessions signs the caller out everywhere
// @Summary Revoke all sessions
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.RevokeSessionsResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/sessions [delete]
func (h *AuthHandler) RevokeSessions(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthorized)
		return
	}

	revoked, err := h.authService.RevokeAllSessions(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.cookie.clear(c)
	c.JSON(http.StatusOK, dto.RevokeSessionsResponse{Revoked: revoked})
}

// ChangePassword updates the caller's password
// @Summary Change password
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.ChangePasswordRequest true "Change password request"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/password/change [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthorized)
		return
	}

	var req dto.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}
	if !utils.ValidatePassword(req.NewPassword) {
		respondValidation(c, errors.New(passwordPolicyMessage))
		return
	}

	err := h.authService.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword, req.RevokeAllSessions)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if req.RevokeAllSessions {
		h.cookie.clear(c)
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Password changed"})
}

// ForgotPassword issues a password reset grant
// @Summary Request a password reset
// @Description Always answers 202 so the response does not reveal whether the
// @Description email is registered
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.ForgotPasswordRequest true "Forgot password request"
// @Success 202 {object} dto.ForgotPasswordResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /auth/password/forgot [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	resp := dto.ForgotPasswordResponse{
		Message: "If the account exists, password reset instructions have been sent",
	}

	token, err := h.authService.RequestPasswordReset(c.Request.Context(), req.Email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		respondError(c, h.logger, err)
		return
	case h.opts.ExposeResetToken:
		resp.ResetToken = token
	}

	c.JSON(http.StatusAccepted, resp)
}

// ResetPassword consumes a reset grant and sets a new password
// @Summary Reset password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.ResetPasswordRequest true "Reset password request"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/password/reset [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}
	if !utils.ValidatePassword(req.NewPassword) {
		respondValidation(c, errors.New(passwordPolicyMessage))
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.cookie.clear(c)
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Password has been reset"})
}

// refreshToken reads the refresh token from a JSON body, falling back to the cookie
func (h *AuthHandler) refreshToken(c *gin.Context) string {
	if c.Request.ContentLength > 0 {
		var req dto.RefreshRequest
		if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
			return req.RefreshToken
		}
	}

	token, _ := c.Cookie(refreshCookieName)
	return token
}

// refreshCookie writes the HttpOnly refresh token cookie
type refreshCookie struct {
	ttl    time.Duration
	secure bool
}

func (rc refreshCookie) set(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, token, int(rc.ttl.Seconds()), refreshCookiePath, "", rc.secure, true)
}

func (rc refreshCookie) clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, "", -1, refreshCookiePath, "", rc.secure, true)
}

// AdminGetSessions reports another user's active session count
// @Summary Count a user's active sessions
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} dto.SessionsResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /admin/users/{id}/sessions [get]
func (h *AuthHandler) AdminGetSessions(c *gin.Context) {
	user, err := h.authService.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	count, err := h.authService.GetSessionCount(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SessionsResponse{Count: count})
}

// AdminRevokeSessions signs another user out everywhere
// @Summary Revoke a user's sessions
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} dto.RevokeSessionsResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /admin/users/{id}/sessions [delete]
func (h *AuthHandler) AdminRevokeSessions(c *gin.Context) {
	userID := c.Param("id")

	revoked, err := h.authService.RevokeAllSessions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	admin, _ := CurrentUser(c)
	h.logger.Info("sessions revoked by admin",
		zap.String("user_id", userID),
		zap.String("admin_id", admin.ID),
		zap.Int("revoked", revoked),
	)
	c.JSON(http.StatusOK, dto.RevokeSessionsResponse{Revoked: revoked})
}
