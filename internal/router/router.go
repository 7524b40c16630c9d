package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/YubinShin/creverse/internal/config"
	"github.com/YubinShin/creverse/internal/handler"
	"github.com/YubinShin/creverse/internal/middleware"
	"github.com/YubinShin/creverse/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler *handler.SubmissionHandler
	JWTMiddleware     fiber.Handler
	HealthChecks      map[string]handler.ReadinessCheck
	// SubmitRateLimit caps submissions per user per minute. Zero disables it.
	SubmitRateLimit int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.SubmissionHandler != nil {
		var createGuard fiber.Handler
		if deps.SubmitRateLimit > 0 {
			createGuard = middleware.RateLimit("submissions", deps.SubmitRateLimit, time.Minute)
		}

		submissions := api.Group("/submissions", jwtMiddleware)
		deps.SubmissionHandler.Register(submissions, createGuard, middleware.RequireRole("teacher", "admin"))
	}
}
