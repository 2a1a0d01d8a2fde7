package http

import (
	"context"
	"time"

	"labeler_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	db      *sqlx.DB
	latency *metrics.LatencyRegistry
}

// NewHealthHandler creates a health handler. db and latency may be nil.
func NewHealthHandler(db *sqlx.DB, latency *metrics.LatencyRegistry) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]Check), db: db, latency: latency}
	if db != nil {
		h.checks["database"] = db.PingContext
	}
	return h
}

// AddCheck registers a named readiness check.
func (h *HealthHandler) AddCheck(name string, check Check) {
	h.checks[name] = check
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.latency != nil {
		routes := fiber.Map{}
		for name, stats := range h.latency.AllStats() {
			routes[name] = stats.ToMap()
		}
		body["latency"] = routes
	}
	return c.JSON(body)
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	body := fiber.Map{"checks": checks}
	if h.db != nil {
		pool := metrics.AssessDBPoolHealth(metrics.GetDBPoolStats(h.db.DB))
		body["database_pool"] = pool
		if pool.Status == metrics.PoolUnhealthy {
			allHealthy = false
		}
	}

	status, code := "ready", fiber.StatusOK
	if !allHealthy {
		status, code = "not ready", fiber.StatusServiceUnavailable
	}
	body["status"] = status
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return c.Status(code).JSON(body)
}
