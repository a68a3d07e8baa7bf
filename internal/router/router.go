package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Devansh1910/mymedicos-mentor/internal/config"
	"github.com/Devansh1910/mymedicos-mentor/internal/handler"
	"github.com/Devansh1910/mymedicos-mentor/internal/middleware"
	"github.com/Devansh1910/mymedicos-mentor/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	DoubtHandler        *handler.DoubtHandler
	MentorHandler       *handler.MentorHandler
	NotificationHandler *handler.NotificationHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.DoubtHandler != nil {
		doubts := app.Group("/api/v1/doubts", jwtMiddleware,
			middleware.RateLimit("doubts", 30, time.Minute))
		deps.DoubtHandler.Register(doubts)
	}

	if deps.MentorHandler != nil {
		mentors := app.Group("/api/v1/mentors", jwtMiddleware)
		me := app.Group("/api/v1/me/mentor", jwtMiddleware,
			middleware.RequireRole("mentor", "admin"))
		deps.MentorHandler.Register(mentors, me)
	}

	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v1/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}
}
