package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/prperemyshlev/eduportal-auth/internal/service"

// Result labels attached to the auth counters
const (
	resultSuccess            = "success"
	resultInvalidCredentials = "invalid_credentials"
	resultForbidden          = "forbidden"
	resultUnauthorized       = "unauthorized"
	resultNotFound           = "not_found"
	resultError              = "error"
)

// authMetrics holds the counters recorded by the auth and oauth services
type authMetrics struct {
	logins         metric.Int64Counter
	refreshes      metric.Int64Counter
	revocations    metric.Int64Counter
	oauthCallbacks metric.Int64Counter
}

func newAuthMetrics() *authMetrics {
	meter := otel.GetMeterProvider().Meter(meterName)
	return &authMetrics{
		logins:         counter(meter, "auth_logins_total", "Local password login attempts"),
		refreshes:      counter(meter, "auth_token_refreshes_total", "Refresh token exchanges"),
		revocations:    counter(meter, "auth_sessions_revoked_total", "Sessions deleted by logout, rotation or bulk revocation"),
		oauthCallbacks: counter(meter, "auth_oauth_callbacks_total", "OAuth callback outcomes"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (m *authMetrics) login(ctx context.Context, result string) {
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *authMetrics) refresh(ctx context.Context, rotate bool, result string) {
	m.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("rotate", rotate),
		attribute.String("result", result),
	))
}

func (m *authMetrics) revoked(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.revocations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *authMetrics) oauthCallback(ctx context.Context, provider, branch, result string) {
	m.oauthCallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("branch", branch),
		attribute.String("result", result),
	))
}
