package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sync/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Alerts         *handlers.AlertsHandler
	AuthMiddleware *auth.AuthMiddleware
	AlertsAPIKey   string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.Health.Metrics)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", auth.RequireStaff(), cfg.Tickets.UpdateTicket)
	tickets.Get("/:id/audit", auth.RequireStaff(), cfg.Tickets.ListAudit)
	tickets.Get("/:id/comments", cfg.Tickets.ListComments)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)

	alerts := app.Group("/alerts", auth.RequireAPIKey(cfg.AlertsAPIKey))
	alerts.Get("/current", cfg.Alerts.Current)
	alerts.Post("/acknowledge", cfg.Alerts.Acknowledge)
	alerts.Post("/sync", cfg.Alerts.Sync)
}
