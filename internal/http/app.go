// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"acquisition_backend/internal/events"
	"acquisition_backend/platform/config"
	"acquisition_backend/platform/logger"
	"acquisition_backend/platform/metrics"
)

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the HTTP settings (listen address, CORS, shared secrets).
	Config config.HTTPConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health is used for readiness checks (database and Redis pings).
	Health []HealthChecker
	// Metrics is served at /metrics and records request latency.
	Metrics *metrics.Metrics
	// EventBus is the domain event bus for cross-module communication.
	EventBus events.Bus
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
