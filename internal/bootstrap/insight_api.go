package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"insight_server/adapter/in/http"
	"insight_server/adapter/out/provider"
	"insight_server/config"
	"insight_server/core/port/out"
	"insight_server/infra/middleware"
	"insight_server/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// NewAPI builds the fiber app on top of deps.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 빠른 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		ReadBufferSize: 16384, // OAuth redirect 쿼리가 긴 경우 대비
		BodyLimit:      1024 * 1024,
		ServerHeader:   "",
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(cors.New(corsConfig(cfg)))

	zlog := logger.Default().Zerolog()
	sources := func(token string, limit int) out.EmailSource {
		return deps.Gmail.Source(token, limit)
	}

	http.NewHealthHandler(cfg.JobStore, deps.Redis).
		WithBreaker("gmail", deps.Gmail.CircuitState).
		Register(app)
	http.NewAuthHandler(deps.OAuth, cfg.FrontendURL, zlog).Register(app)
	http.NewAnalyticsHandler(deps.Scheduler, sources, cfg.EmailLookback, zlog).Register(app)
	http.NewMailboxHandler(deps.Scheduler, sources, provider.AsAppError, zlog).Register(app)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect(cfg.FrontendURL)
	})

	return app
}

func corsConfig(cfg *config.Config) cors.Config {
	origins := strings.Join(cfg.AllowedOrigins, ",")
	if origins == "" {
		origins = "*"
	}
	return cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID",
		MaxAge:        86400,
	}
}

// Serve runs the API server, the job pool and the reaper until ctx is done.
func Serve(ctx context.Context, cfg *config.Config) error {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	app := NewAPI(deps)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go deps.Scheduler.RunReaper(reaperCtx, cfg.ReaperInterval, cfg.JobRetention)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("Starting API server on %s", addr)
		errc <- app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("Error shutting down: %v", err)
		return err
	}
	logger.Info("API server shut down gracefully")
	return nil
}
