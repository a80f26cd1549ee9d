package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prperemyshlev/eduportal-auth/internal/repository"
)

const (
	healthCheckTimeout = 2 * time.Second
	healthProbeTTL     = 5 * time.Second
	healthProbeOwner   = "healthcheck"
)

const (
	checkPass = "pass"
	checkFail = "fail"
)

// pinger is satisfied by database.Postgres
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports whether the credential store answers and whether the
// session store can open and consume a session
type HealthChecker struct {
	credentials pinger
	sessions    repository.SessionStore
	logger      *zap.Logger
}

// NewHealthChecker creates a health checker over the two stores
func NewHealthChecker(credentials pinger, sessions repository.SessionStore, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		credentials: credentials,
		sessions:    sessions,
		logger:      logger,
	}
}

// checkSessions runs the same create/take cycle a refresh rotation does
func (h *HealthChecker) checkSessions(ctx context.Context) error {
	token := "health-" + uuid.NewString()
	if err := h.sessions.Create(ctx, token, healthProbeOwner, healthProbeTTL); err != nil {
		return err
	}
	owner, err := h.sessions.Take(ctx, token)
	if err != nil {
		return err
	}
	if owner != healthProbeOwner {
		return fmt.Errorf("session store returned owner %q", owner)
	}
	return nil
}

func (h *HealthChecker) check(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		credErr error
		sessErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		credErr = h.credentials.Ping(ctx)
	}()
	go func() {
		defer wg.Done()
		sessErr = h.checkSessions(ctx)
	}()
	wg.Wait()

	return map[string]error{
		"credential_store": credErr,
		"session_store":    sessErr,
	}
}

// Handler answers 200 when every check passes and 503 otherwise. Failure
// details go to the log only.
func (h *HealthChecker) Handler(c *gin.Context) {
	status := http.StatusOK
	checks := make(map[string]string)

	for name, err := range h.check(c.Request.Context()) {
		if err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = checkFail
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		checks[name] = checkPass
	}

	overall := checkPass
	if status != http.StatusOK {
		overall = checkFail
	}

	c.JSON(status, gin.H{
		"status": overall,
		"checks": checks,
	})
}
