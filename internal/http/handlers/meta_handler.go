package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/taxi-dispatch/backend/internal/http/dto"
	"github.com/taxi-dispatch/backend/internal/payment"
	"github.com/taxi-dispatch/backend/internal/reconcile"
)

// MetaHandler serves the static vocabularies the UI renders against.
type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaCategory struct {
	ID    reconcile.Category `json:"id"`
	Label string             `json:"label"`
}

type MetaNotificationType struct {
	Type     string             `json:"type"`
	Category reconcile.Category `json:"category"`
}

type MetaPhase struct {
	ID       payment.Phase `json:"id"`
	Label    string        `json:"label"`
	Terminal bool          `json:"terminal"`
}

var predefinedCategories = []MetaCategory{
	{ID: reconcile.CategorySuccess, Label: "Success"},
	{ID: reconcile.CategoryError, Label: "Error"},
	{ID: reconcile.CategoryWarning, Label: "Warning"},
	{ID: reconcile.CategoryInfo, Label: "Info"},
}

var phaseLabels = []struct {
	phase payment.Phase
	label string
}{
	{payment.PhaseIdle, "Ready"},
	{payment.PhaseGenerating, "Generating QR"},
	{payment.PhaseWaiting, "Waiting for payment"},
	{payment.PhaseProcessing, "Processing"},
	{payment.PhaseCompleted, "Paid"},
	{payment.PhaseFailed, "Failed"},
	{payment.PhaseExpired, "Expired"},
}

func (h *MetaHandler) GetCategories(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: predefinedCategories})
}

// GetNotificationTypes lists the types with a dedicated category; any
// other type is shown as info.
func (h *MetaHandler) GetNotificationTypes(c *fiber.Ctx) error {
	types := reconcile.KnownTypes()
	out := make([]MetaNotificationType, 0, len(types))
	for _, t := range types {
		out = append(out, MetaNotificationType{Type: t, Category: reconcile.Classify(t)})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *MetaHandler) GetPaymentPhases(c *fiber.Ctx) error {
	out := make([]MetaPhase, 0, len(phaseLabels))
	for _, p := range phaseLabels {
		out = append(out, MetaPhase{ID: p.phase, Label: p.label, Terminal: p.phase.Terminal()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}
