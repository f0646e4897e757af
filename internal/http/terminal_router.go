package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/http/handlers"
)

// SetupTerminalRouter wires the local API of a terminal. It listens on the
// device only, so it carries no auth.
func SetupTerminalRouter(app *fiber.App, log *zap.Logger, gatherer prometheus.Gatherer, h *handlers.TerminalHandler, hub *handlers.UIHub) {
	commonMiddleware(app, log, gatherer)

	api := app.Group("/api/v1")

	// Payment
	api.Get("/payment", h.GetPayment)
	api.Post("/payment/qr", h.GenerateQR)
	api.Post("/payment/cancel", h.CancelPayment)
	api.Post("/payment/reset", h.ResetPayment)
	api.Post("/payment/check", h.CheckPayment)

	// Notifications
	api.Get("/notifications", h.ListNotifications)
	api.Post("/notifications/read", h.MarkRead)
	api.Post("/notifications/refresh", h.RefreshNotifications)

	// Push connection
	api.Get("/connection", h.Connection)

	// Meta
	meta := handlers.NewMetaHandler()
	api.Get("/meta/categories", meta.GetCategories)
	api.Get("/meta/notification-types", meta.GetNotificationTypes)
	api.Get("/meta/payment-phases", meta.GetPaymentPhases)

	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(hub.HandleWS))
}
