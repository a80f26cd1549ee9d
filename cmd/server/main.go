package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/prperemyshlev/eduportal-auth/internal/app"
	"github.com/prperemyshlev/eduportal-auth/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "eduportal-auth: %v\n", err)
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM. Errors before the logger exists are
// returned to main; later ones are logged as well.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	infra, err := app.NewInfrastructure(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("initialize infrastructure: %w", err)
	}
	logger := infra.Logger()

	logger.Info("Starting eduportal-auth",
		zap.String("env", cfg.Env),
		zap.Bool("rotate_refresh_tokens", cfg.Auth.RotateRefreshTokens),
	)

	if err := app.NewApp(infra, cfg).Run(ctx); err != nil {
		logger.Error("Application failed", zap.Error(err))
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
