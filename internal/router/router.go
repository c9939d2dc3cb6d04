package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/labrecord-api/internal/config"
	"github.com/noah-isme/labrecord-api/internal/handler"
	"github.com/noah-isme/labrecord-api/internal/middleware"
	"github.com/noah-isme/labrecord-api/internal/observability"
	"github.com/noah-isme/labrecord-api/internal/realtime"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssignmentHandler   *handler.AssignmentHandler
	SubmissionHandler   *handler.SubmissionHandler
	GradingHandler      *handler.GradingHandler
	VivaHandler         *handler.VivaHandler
	NotificationHandler *handler.NotificationHandler
	ActivityHandler     *handler.ActivityHandler
	RealtimeHandler     *handler.RealtimeHandler
	Hub                 *realtime.Hub
	JWTMiddleware       fiber.Handler
	RateLimiter         fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler(cfg.MetricsToken))

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Hub))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.AssignmentHandler != nil {
		deps.AssignmentHandler.Register(api.Group("/assignments", jwtMiddleware, limiter))
	}

	if deps.SubmissionHandler != nil || deps.GradingHandler != nil {
		submissions := api.Group("/submissions", jwtMiddleware, limiter)
		if deps.SubmissionHandler != nil {
			deps.SubmissionHandler.Register(submissions)
		}
		if deps.GradingHandler != nil {
			deps.GradingHandler.RegisterSubmissionRoutes(submissions)
		}
	}

	if deps.GradingHandler != nil {
		deps.GradingHandler.Register(api.Group("/grades", jwtMiddleware, limiter))
		deps.GradingHandler.RegisterScaleRoutes(api.Group("/grade-scale", jwtMiddleware, limiter))
	}

	if deps.VivaHandler != nil {
		deps.VivaHandler.Register(api.Group("/vivas", jwtMiddleware, limiter))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications", jwtMiddleware))
	}

	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(api.Group("/activity", jwtMiddleware, middleware.RequireRole("admin")))
	}

	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.Register(api.Group("/realtime", jwtMiddleware))
	}
}
