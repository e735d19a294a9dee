package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"insight_server/infra/database"
)

// HealthHandler reports liveness and dependency readiness.
type HealthHandler struct {
	redis    *redis.Client
	jobStore string
	breakers map[string]func() string
}

// NewHealthHandler creates a handler. redis may be nil when the memory job
// store is used.
func NewHealthHandler(jobStore string, redis *redis.Client) *HealthHandler {
	return &HealthHandler{
		redis:    redis,
		jobStore: jobStore,
		breakers: make(map[string]func() string),
	}
}

// WithBreaker adds a circuit breaker state to the readiness report.
func (h *HealthHandler) WithBreaker(name string, state func() string) *HealthHandler {
	h.breakers[name] = state
	return h
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"job_store": h.jobStore,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	// open breaker는 degraded로만 표시
	for name, state := range h.breakers {
		checks[name+"_circuit"] = state()
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{
		"status": status,
		"checks": checks,
	}
	if h.redis != nil {
		body["redis_pool"] = database.GetRedisStats(h.redis)
	}
	return c.Status(statusCode).JSON(body)
}
