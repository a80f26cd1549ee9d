package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/dto"
	"github.com/prperemyshlev/eduportal-auth/internal/oauth"
	"github.com/prperemyshlev/eduportal-auth/internal/service"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStatePath   = "/api/v1/oauth"
	oauthStateMaxAge = 10 * time.Minute
)

// OAuthHandler drives provider sign-in and account linking
type OAuthHandler struct {
	providers    *oauth.Registry
	oauthService service.OAuthService
	logger       *zap.Logger
	cookie       refreshCookie
	secure       bool
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(providers *oauth.Registry, oauthService service.OAuthService, logger *zap.Logger, opts AuthHandlerOptions) *OAuthHandler {
	return &OAuthHandler{
		providers:    providers,
		oauthService: oauthService,
		logger:       logger,
		cookie:       refreshCookie{ttl: opts.RefreshTokenTTL, secure: opts.SecureCookies},
		secure:       opts.SecureCookies,
	}
}

// Login starts the authorization code flow
// @Summary Start provider sign-in
// @Tags oauth
// @Param provider path string true "Provider name"
// @Success 307
// @Failure 404 {object} dto.ErrorResponse
// @Router /oauth/{provider}/login [get]
func (h *OAuthHandler) Login(c *gin.Context) {
	provider, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	state, err := generateState()
	if err != nil {
		respondError(c, h.logger, fmt.Errorf("failed to generate oauth state: %w", err))
		return
	}

	// Lax so the cookie survives the provider's top-level redirect back
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, int(oauthStateMaxAge.Seconds()), oauthStatePath, "", h.secure, true)

	c.Redirect(http.StatusTemporaryRedirect, provider.AuthCodeURL(state))
}

// Callback completes provider sign-in and opens a session
// @Summary Provider sign-in callback
// @Tags oauth
// @Produce json
// @Param provider path string true "Provider name"
// @Param code query string true "Authorization code"
// @Param state query string true "State"
// @Success 200 {object} dto.AuthResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /oauth/{provider}/callback [get]
func (h *OAuthHandler) Callback(c *gin.Context) {
	provider, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if providerErr := c.Query("error"); providerErr != "" {
		h.clearState(c)
		respondError(c, h.logger, fmt.Errorf("provider denied sign-in: %s: %w", providerErr, domain.ErrUnauthorized))
		return
	}

	if err := h.checkState(c, c.Query("state")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	code := c.Query("code")
	if code == "" {
		respondValidation(c, fmt.Errorf("missing authorization code"))
		return
	}

	profile, tokens, err := provider.Exchange(c.Request.Context(), code)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	result, err := h.oauthService.HandleCallback(c.Request.Context(), profile, tokens)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.cookie.set(c, result.Tokens.RefreshToken)

	resp := dto.NewAuthResponse(&result.AuthResult)
	resp.IsNewUser = result.IsNewUser
	c.JSON(http.StatusOK, resp)
}

// Link attaches a provider account to the signed in user
// @Summary Link provider account
// @Tags oauth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Param request body dto.LinkAccountRequest true "Authorization code and state"
// @Success 201 {object} dto.OAuthAccountResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /oauth/{provider}/link [post]
func (h *OAuthHandler) Link(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthorized)
		return
	}

	provider, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	var req dto.LinkAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	if err := h.checkState(c, req.State); err != nil {
		respondError(c, h.logger, err)
		return
	}

	profile, tokens, err := provider.Exchange(c.Request.Context(), req.Code)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	account, err := h.oauthService.LinkOAuthAccount(c.Request.Context(), user.ID, profile, tokens)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewOAuthAccountResponses([]*domain.OAuthAccount{account})[0])
}

// Unlink removes a provider account from the signed in user
// @Summary Unlink provider account
// @Tags oauth
// @Security BearerAuth
// @Produce json
// @Param provider path string true "Provider name"
// @Success 200 {object} dto.SuccessResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /oauth/{provider} [delete]
func (h *OAuthHandler) Unlink(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthorized)
		return
	}

	if err := h.oauthService.UnlinkOAuthAccount(c.Request.Context(), user.ID, c.Param("provider")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Account unlinked"})
}

// Accounts lists the signed in user's linked provider accounts
// @Summary List linked accounts
// @Tags oauth
// @Security BearerAuth
// @Produce json
// @Success 200 {array} dto.OAuthAccountResponse
// @Router /oauth/accounts [get]
func (h *OAuthHandler) Accounts(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		respondError(c, h.logger, domain.ErrUnauthorized)
		return
	}

	accounts, err := h.oauthService.GetUserOAuthAccounts(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewOAuthAccountResponses(accounts))
}

// checkState compares state with the cookie set by Login and consumes the cookie
func (h *OAuthHandler) checkState(c *gin.Context, state string) error {
	expected, err := c.Cookie(oauthStateCookie)
	h.clearState(c)

	if err != nil || expected == "" || state == "" ||
		subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		h.logger.Warn("oauth state mismatch", zap.String("provider", c.Param("provider")))
		return fmt.Errorf("invalid state parameter: %w", domain.ErrInvalidInput)
	}
	return nil
}

func (h *OAuthHandler) clearState(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, "", -1, oauthStatePath, "", h.secure, true)
}

// generateState returns a random value binding a callback to its login
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
