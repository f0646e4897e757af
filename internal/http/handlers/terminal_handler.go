package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/eventbus"
	"github.com/taxi-dispatch/backend/internal/feed"
	"github.com/taxi-dispatch/backend/internal/http/dto"
	"github.com/taxi-dispatch/backend/internal/middleware"
	"github.com/taxi-dispatch/backend/internal/payment"
	"github.com/taxi-dispatch/backend/internal/reconcile"
)

type PaymentController interface {
	GenerateQR(ctx context.Context, sum float64, note string) (payment.Session, error)
	CancelPayment() error
	Reset()
	State() payment.State
	CheckStatus(ctx context.Context) (*payment.Status, error)
}

type FeedController interface {
	Snapshot() feed.Snapshot
	MarkAsRead(ctx context.Context, ids []string) error
	Refresh(ctx context.Context) error
}

type ConnectionInfo interface {
	State() eventbus.ConnState
	Stats() eventbus.Stats
}

// TerminalHandler serves the local API the terminal UI shell talks to.
type TerminalHandler struct {
	payments  PaymentController
	feed      FeedController
	conn      ConnectionInfo
	transport string
	log       *zap.Logger
}

func NewTerminalHandler(payments PaymentController, feed FeedController, conn ConnectionInfo, transport string, log *zap.Logger) *TerminalHandler {
	return &TerminalHandler{payments: payments, feed: feed, conn: conn, transport: transport, log: log}
}

func (h *TerminalHandler) GenerateQR(c *fiber.Ctx) error {
	var req dto.GenerateQRRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	sess, err := h.payments.GenerateQR(c.UserContext(), req.Sum, req.Note)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"session": sess,
		"state":   h.payments.State(),
	}})
}

func (h *TerminalHandler) GetPayment(c *fiber.Ctx) error {
	return c.JSON(h.payments.State())
}

// CancelPayment only stops waiting locally; the provider has no cancel call.
func (h *TerminalHandler) CancelPayment(c *fiber.Ctx) error {
	if err := h.payments.CancelPayment(); err != nil {
		return writeError(c, err)
	}
	return c.JSON(h.payments.State())
}

func (h *TerminalHandler) ResetPayment(c *fiber.Ctx) error {
	h.payments.Reset()
	return c.JSON(h.payments.State())
}

func (h *TerminalHandler) CheckPayment(c *fiber.Ctx) error {
	status, err := h.payments.CheckStatus(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": status, "state": h.payments.State()})
}

// ListNotifications returns the reconciled feed, optionally filtered by
// ?category=success|error|warning|info. unreadCount always covers the
// whole feed.
func (h *TerminalHandler) ListNotifications(c *fiber.Ctx) error {
	snap := h.feed.Snapshot()
	if cat := c.Query("category"); cat != "" {
		filtered := make([]feed.Item, 0, len(snap.Items))
		for _, it := range snap.Items {
			if it.Category == reconcile.Category(cat) {
				filtered = append(filtered, it)
			}
		}
		snap.Items = filtered
	}
	return c.JSON(snap)
}

func (h *TerminalHandler) MarkRead(c *fiber.Ctx) error {
	var req dto.MarkReadRequest
	if err := c.BodyParser(&req); err != nil || len(req.IDs) == 0 {
		return badRequest(c, "ids are required")
	}

	if err := h.feed.MarkAsRead(c.UserContext(), req.IDs); err != nil {
		// The local change stays applied; the UI decides whether to retry.
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error:     err.Error(),
			RequestID: middleware.GetRequestID(c),
		})
	}
	return c.JSON(h.feed.Snapshot())
}

func (h *TerminalHandler) RefreshNotifications(c *fiber.Ctx) error {
	if err := h.feed.Refresh(c.UserContext()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error:     err.Error(),
			RequestID: middleware.GetRequestID(c),
		})
	}
	return c.JSON(h.feed.Snapshot())
}

func (h *TerminalHandler) Connection(c *fiber.Ctx) error {
	return c.JSON(h.connection())
}

func (h *TerminalHandler) connection() dto.ConnectionResponse {
	st := h.conn.State()
	stats := h.conn.Stats()
	return dto.ConnectionResponse{
		State:      st.String(),
		Connected:  st == eventbus.Connected,
		Transport:  h.transport,
		Dispatched: stats.Dispatched,
		Dropped:    stats.Dropped,
		Faults:     stats.Faults,
	}
}
