package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/auth"
	"github.com/taxi-dispatch/backend/internal/http/handlers"
	"github.com/taxi-dispatch/backend/internal/middleware"
)

type GatewayDeps struct {
	JWTSecret           string
	Log                 *zap.Logger
	Redis               *redis.Client
	Gatherer            prometheus.Gatherer
	PaymentHandler      *handlers.PaymentHandler
	NotificationHandler *handlers.NotificationHandler
	WSHub               *handlers.WSHub
	AuthHandler         *handlers.AuthHandler
}

func commonMiddleware(app *fiber.App, log *zap.Logger, gatherer prometheus.Gatherer) {
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

// SetupGatewayRouter wires the gateway API: collaborator endpoints for
// terminals, internal endpoints for the provider and dispatch services,
// and the push websocket.
func SetupGatewayRouter(app *fiber.App, d GatewayDeps) {
	commonMiddleware(app, d.Log, d.Gatherer)

	// Provider webhook, authenticated by its signature
	app.Post("/internal/payments/confirm", d.PaymentHandler.Webhook)

	internal := app.Group("/internal",
		middleware.AuthMiddleware(d.JWTSecret, d.Log),
		middleware.RequireRole(auth.RoleService),
	)
	internal.Post("/notifications", d.NotificationHandler.Create)

	// Meta, public; registered ahead of the authenticated group
	meta := handlers.NewMetaHandler()
	app.Get("/api/v1/meta/categories", meta.GetCategories)
	app.Get("/api/v1/meta/notification-types", meta.GetNotificationTypes)

	api := app.Group("/api/v1", middleware.AuthMiddleware(d.JWTSecret, d.Log))
	if d.Redis != nil {
		api.Use(middleware.RateLimitMiddleware(d.Redis, 120, time.Minute))
	}

	// Auth
	api.Get("/me", d.AuthHandler.Me)
	api.Post("/auth/refresh", d.AuthHandler.Refresh)

	// Payments
	api.Post("/payments/qr", d.PaymentHandler.GenerateQR)
	api.Get("/payments/:id", d.PaymentHandler.GetStatus)
	api.Get("/payments/:id/history", d.PaymentHandler.History)

	// Notifications
	api.Get("/notifications", d.NotificationHandler.List)
	api.Post("/notifications/read", d.NotificationHandler.MarkRead)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(d.WSHub.HandleWS))
}

// SetupWorkerRouter exposes health and metrics of the background worker.
func SetupWorkerRouter(app *fiber.App, log *zap.Logger, gatherer prometheus.Gatherer) {
	commonMiddleware(app, log, gatherer)
}
