package http

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supportops/mailtriage/internal/api/http/handlers"
	"github.com/supportops/mailtriage/internal/auth"
	"github.com/supportops/mailtriage/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	KB             *handlers.KBHandler
	Ingest         *handlers.IngestHandler
	Auth           *handlers.AuthHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1")
	api.Post("/auth/login", cfg.Auth.Login)
	api.Post("/auth/password/reset/request", cfg.Auth.RequestPasswordReset)
	api.Post("/auth/password/reset/confirm", cfg.Auth.ConfirmPasswordReset)

	protected := api.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole())
	protected.Post("/auth/password/change", cfg.Auth.ChangePassword)

	tickets := protected.Group("/tickets")
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Post("/:id/send", cfg.Tickets.SendReply)
	tickets.Post("/:id/promote", cfg.Tickets.PromoteToKB)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Get("/:id/mail", cfg.Tickets.MailLog)

	kb := protected.Group("/kb")
	kb.Get("/", cfg.KB.ListEntries)
	kb.Get("/:id", cfg.KB.GetEntry)

	protected.Post("/ingest/run", cfg.Ingest.Run)

	operators := protected.Group("/operators", auth.RequireAdmin())
	operators.Post("/", cfg.Auth.CreateOperator)
	operators.Get("/", cfg.Auth.ListOperators)
	operators.Patch("/:id/active", cfg.Auth.SetActive)
}
