package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/http/dto"
	"github.com/taxi-dispatch/backend/internal/middleware"
	"github.com/taxi-dispatch/backend/internal/models"
	"github.com/taxi-dispatch/backend/internal/reconcile"
	"github.com/taxi-dispatch/backend/internal/services"
)

type NotificationAPI interface {
	List(ctx context.Context, recipient string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, recipient string, ids []string) (int64, error)
	Create(ctx context.Context, req services.CreateNotificationRequest) (*models.Notification, error)
}

type NotificationHandler struct {
	notifications NotificationAPI
	log           *zap.Logger
}

func NewNotificationHandler(notifications NotificationAPI, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

// List returns the raw feed; unreadCount counts the reconciled view so it
// matches what a terminal shows.
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	items, err := h.notifications.List(c.UserContext(), middleware.GetTerminalID(c), c.QueryInt("limit", 0))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NotificationListResponse{
		Items:       items,
		UnreadCount: reconcile.UnreadCount(reconcile.Deduplicate(items)),
	})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	var req dto.MarkReadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	n, err := h.notifications.MarkRead(c.UserContext(), middleware.GetTerminalID(c), req.IDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.MarkReadResponse{Updated: n})
}

// Create is called by dispatch services to notify a terminal.
func (h *NotificationHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	n, err := h.notifications.Create(c.UserContext(), services.CreateNotificationRequest{
		Recipient: req.Recipient,
		OrderID:   req.OrderID,
		Type:      req.Type,
		Message:   req.Message,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}
