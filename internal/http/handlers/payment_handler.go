package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/auth"
	"github.com/taxi-dispatch/backend/internal/http/dto"
	"github.com/taxi-dispatch/backend/internal/middleware"
	"github.com/taxi-dispatch/backend/internal/models"
	"github.com/taxi-dispatch/backend/internal/payment"
	"github.com/taxi-dispatch/backend/internal/services"
)

type PaymentAPI interface {
	GenerateQR(ctx context.Context, subject string, req payment.QRRequest) (*payment.QRResponse, error)
	GetStatus(ctx context.Context, subject string, id uuid.UUID) (*payment.Status, error)
	History(ctx context.Context, subject string, id uuid.UUID) ([]models.PaymentEvent, error)
	Confirm(ctx context.Context, req services.ConfirmRequest) (*models.Payment, error)
}

type PaymentHandler struct {
	payments      PaymentAPI
	webhookSecret string
	now           func() time.Time
	log           *zap.Logger
}

func NewPaymentHandler(payments PaymentAPI, webhookSecret string, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, webhookSecret: webhookSecret, now: time.Now, log: log}
}

func (h *PaymentHandler) GenerateQR(c *fiber.Ctx) error {
	var req dto.GenerateQRRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	resp, err := h.payments.GenerateQR(c.UserContext(), middleware.GetTerminalID(c), payment.QRRequest{Sum: req.Sum, Note: req.Note})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *PaymentHandler) GetStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment id")
	}

	status, err := h.payments.GetStatus(c.UserContext(), middleware.GetTerminalID(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(status)
}

func (h *PaymentHandler) History(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid payment id")
	}

	history, err := h.payments.History(c.UserContext(), middleware.GetTerminalID(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: history})
}

// Webhook receives the provider callback. The body is signed, see
// auth.VerifyWebhook.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	err := auth.VerifyWebhook(h.webhookSecret,
		c.Get(auth.WebhookTimestampHeader),
		c.Get(auth.WebhookSignatureHeader),
		body, h.now(), 0)
	if err != nil {
		h.log.Warn("rejected payment webhook", zap.String("ip", c.IP()), zap.Error(err))
		return writeError(c, err)
	}

	var req dto.PaymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "invalid request")
	}

	p, err := h.payments.Confirm(c.UserContext(), services.ConfirmRequest{
		TransactionID: req.TransactionID,
		Status:        req.Status,
		ProviderRef:   req.ProviderRef,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"paymentId": p.ID, "status": p.Status}})
}
