package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/taxi-dispatch/backend/internal/auth"
	"github.com/taxi-dispatch/backend/internal/http/dto"
	"github.com/taxi-dispatch/backend/internal/middleware"
	"github.com/taxi-dispatch/backend/internal/payment"
	"github.com/taxi-dispatch/backend/internal/services"
)

// writeError maps domain errors to a status code and an ErrorResponse.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	resp := dto.ErrorResponse{Error: "internal error", RequestID: middleware.GetRequestID(c)}

	var verr *payment.ValidationError
	var reqErr *payment.RequestError
	switch {
	case errors.As(err, &verr):
		status = fiber.StatusBadRequest
		resp.Field = verr.Field
	case errors.Is(err, services.ErrInvalidInput):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, auth.ErrBadSignature):
		status = fiber.StatusUnauthorized
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, payment.ErrInProgress),
		errors.Is(err, payment.ErrSuperseded),
		errors.Is(err, payment.ErrNothingToCancel),
		errors.Is(err, payment.ErrNoPayment):
		status = fiber.StatusConflict
	case errors.As(err, &reqErr):
		status = fiber.StatusBadGateway
	}
	if status != fiber.StatusInternalServerError {
		resp.Error = err.Error()
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}
