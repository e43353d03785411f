package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/adeline-api/internal/config"
	"github.com/noah-isme/adeline-api/internal/handler"
	"github.com/noah-isme/adeline-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssessmentHandler *handler.AssessmentHandler
	SeedHandler       *handler.SeedHandler
	HealthProbes      map[string]handler.HealthProbe
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	app.Get("/metrics", observability.MetricsHandler())

	// Identity is optional on assessment routes; anonymous visitors send X-Session-Id.
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.AssessmentHandler != nil {
		assessment := app.Group("/api/assessment", jwtMiddleware)
		deps.AssessmentHandler.Register(assessment)
	}

	if deps.SeedHandler != nil {
		seed := app.Group("/api/seed")
		deps.SeedHandler.Register(seed)
	}
}
