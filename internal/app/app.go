package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/eduportal-auth/internal/config"
	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/internal/handler"
	"github.com/prperemyshlev/eduportal-auth/internal/repository"
	"github.com/prperemyshlev/eduportal-auth/internal/service"
	"github.com/prperemyshlev/eduportal-auth/internal/utils"
	"github.com/prperemyshlev/eduportal-auth/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 5 * time.Second
	envProduction   = "production"
)

type App struct {
	infra  Infrastructure
	config *config.Config
	router *gin.Engine
	server *http.Server
}

// NewApp wires repositories, services and HTTP routes on top of infra
func NewApp(infra Infrastructure, cfg *config.Config) *App {
	logger := infra.Logger()

	repos := repository.NewRepositories(
		infra.Postgres(),
		infra.Redis(),
		cfg.JWT.RefreshTokenExpiry.Duration,
		cfg.Auth.PasswordResetExpiry.Duration,
	)

	jwtManager := utils.NewJWTManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessTokenExpiry.Duration,
	)
	hasher := utils.NewBcryptHasher(cfg.Security.BCryptCost)

	settings := service.Settings{
		SessionTTL:       cfg.JWT.RefreshTokenExpiry.Duration,
		PasswordResetTTL: cfg.Auth.PasswordResetExpiry.Duration,
	}

	authService := service.NewAuthService(
		repos.User,
		repos.Sessions,
		repos.PasswordResets,
		hasher,
		jwtManager,
		settings,
		logger.Named("auth"),
	)
	oauthService := service.NewOAuthService(
		repos.User,
		repos.OAuthAccount,
		repos.Sessions,
		jwtManager,
		settings,
		logger.Named("oauth"),
	)

	providers := newProviderRegistry(cfg.OAuth)
	logger.Info("OAuth providers configured", zap.Strings("providers", providers.Names()))

	rateLimiter := service.NewRateLimiter(infra.Redis())
	healthChecker := NewHealthChecker(infra.Postgres(), repos.Sessions, logger.Named("health"))

	handlerOpts := handler.AuthHandlerOptions{
		RotateRefreshTokens: cfg.Auth.RotateRefreshTokens,
		RefreshTokenTTL:     cfg.JWT.RefreshTokenExpiry.Duration,
		SecureCookies:       cfg.Env == envProduction,
		ExposeResetToken:    cfg.Env != envProduction,
	}

	handlers := routeHandlers{
		auth:        handler.NewAuthHandler(authService, logger, handlerOpts),
		oauth:       handler.NewOAuthHandler(providers, oauthService, logger, handlerOpts),
		requireAuth: handler.AuthMiddleware(authService, logger),
		rateLimit: handler.RateLimitMiddleware(
			rateLimiter,
			cfg.Security.RateLimitRequests,
			cfg.Security.RateLimitWindow.Duration,
			handler.IPBasedKey,
			logger,
		),
		requireAdmin: handler.RequireRole(logger, domain.RoleAdmin),
		health:       healthChecker.Handler,
		metrics:      observability.MetricsEndpoint(infra.MetricsHandler()),
	}

	if cfg.Env == envProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	setupRoutes(router, handlers)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:  infra,
		config: cfg,
		router: router,
		server: srv,
	}
}

func (a *App) Router() *gin.Engine {
	return a.router
}

type routeHandlers struct {
	auth         *handler.AuthHandler
	oauth        *handler.OAuthHandler
	requireAuth  gin.HandlerFunc
	requireAdmin gin.HandlerFunc
	rateLimit    gin.HandlerFunc
	health       gin.HandlerFunc
	metrics      gin.HandlerFunc
}

func setupRoutes(router *gin.Engine, h routeHandlers) {
	router.GET("/metrics", h.metrics)
	router.GET("/health", h.health)

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", h.rateLimit, h.auth.Register)
			auth.POST("/login", h.rateLimit, h.auth.Login)
			auth.POST("/refresh", h.auth.Refresh)
			auth.POST("/logout", h.requireAuth, h.auth.Logout)
			auth.GET("/me", h.requireAuth, h.auth.GetMe)
			auth.GET("/sessions", h.requireAuth, h.auth.GetSessions)
			auth.DELETE("/sessions", h.requireAuth, h.auth.RevokeSessions)

			password := auth.Group("/password")
			password.POST("/change", h.requireAuth, h.auth.ChangePassword)
			password.POST("/forgot", h.rateLimit, h.auth.ForgotPassword)
			password.POST("/reset", h.rateLimit, h.auth.ResetPassword)
		}

		oauth := api.Group("/oauth")
		{
			oauth.GET("/accounts", h.requireAuth, h.oauth.Accounts)
			oauth.GET("/:provider/login", h.oauth.Login)
			oauth.GET("/:provider/callback", h.rateLimit, h.oauth.Callback)
			oauth.POST("/:provider/link", h.requireAuth, h.oauth.Link)
			oauth.DELETE("/:provider", h.requireAuth, h.oauth.Unlink)
		}

		admin := api.Group("/admin", h.requireAuth, h.requireAdmin)
		{
			admin.GET("/users/:id/sessions", h.auth.AdminGetSessions)
			admin.DELETE("/users/:id/sessions", h.auth.AdminRevokeSessions)
		}
	}
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
		)

		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}

	if err := a.Shutdown(); err != nil {
		a.infra.Logger().Error("Shutdown error", zap.Error(err))
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := make(chan error, 2)

	go func() {
		errs <- a.server.Shutdown(ctx)
	}()

	go func() {
		errs <- a.infra.Shutdown(ctx)
	}()

	err := errors.Join(<-errs, <-errs)
	if err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
