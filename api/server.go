package api

import (
	"fmt"

	"freightfloo/auth"
	"freightfloo/config"
	"freightfloo/logger"

	"github.com/gofiber/contrib/fiberzap/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth          *AuthHandler
	Shipments     *ShipmentHandler
	Bids          *BidHandler
	Payments      *PaymentHandler
	Refunds       *RefundHandler
	Notifications *NotificationHandler
}

// Server holds the Fiber application and configuration.
type Server struct {
	App *fiber.App
	cfg *config.AppConfig
}

// New creates the HTTP server with middleware and all routes registered.
func New(cfg *config.AppConfig, authSvc *auth.Service, h Handlers) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "freightfloo",
	})

	app.Use(requestid.New(requestid.Config{
		Header: "X-Ray-ID",
	}))

	app.Use(fiberzap.New(fiberzap.Config{
		Logger: logger.Get(),
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/auth/register", h.Auth.Register)
	app.Post("/auth/login", h.Auth.Login)

	// The webhook authenticates by signature, not by bearer token.
	app.Post("/payments/webhook", h.Payments.Webhook)

	authed := app.Group("", RequireAuth(authSvc))
	authed.Get("/me", h.Auth.Me)

	authed.Post("/shipments", h.Shipments.Create)
	authed.Get("/shipments", h.Shipments.List)
	authed.Get("/shipments/:id", h.Shipments.Get)
	authed.Put("/shipments/:id/status", h.Shipments.AdvanceStatus)
	authed.Get("/shipments/:id/bids", h.Bids.ListForShipment)

	authed.Post("/bids", h.Bids.Submit)
	authed.Patch("/bids/:id", h.Bids.Update)

	authed.Post("/payments/create-intent", h.Payments.CreateIntent)
	authed.Post("/payments/complete", h.Payments.Complete)

	authed.Post("/refunds", h.Refunds.Create)
	authed.Get("/refunds/:id", h.Refunds.Get)

	authed.Get("/notifications", h.Notifications.List)
	authed.Patch("/notifications/:id/read", h.Notifications.MarkRead)

	return &Server{App: app, cfg: cfg}
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.ServerPort)
	logger.Get().Info("starting server", zap.String("address", addr))
	return s.App.Listen(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error {
	return s.App.Shutdown()
}
