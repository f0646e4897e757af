package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/auth"
	"github.com/taxi-dispatch/backend/internal/http/dto"
	"github.com/taxi-dispatch/backend/internal/middleware"
)

type PresenceCounter interface {
	TerminalConnections(terminalID string) int
}

// AuthHandler lets an authenticated caller inspect and renew its token.
// Initial tokens are issued out of band.
type AuthHandler struct {
	jwtSecret  string
	expiration time.Duration
	presence   PresenceCounter
	now        func() time.Time
	log        *zap.Logger
}

func NewAuthHandler(jwtSecret string, expiration time.Duration, presence PresenceCounter, log *zap.Logger) *AuthHandler {
	return &AuthHandler{jwtSecret: jwtSecret, expiration: expiration, presence: presence, now: time.Now, log: log}
}

// Refresh issues a new token with the same identity and a fresh expiry.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	id := middleware.GetTerminalID(c)
	role := middleware.GetRole(c)

	expiresAt := h.now().Add(h.expiration)
	token, err := auth.GenerateJWT(h.jwtSecret, id, role, h.expiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	h.log.Info("token refreshed", zap.String("terminal_id", id), zap.String("role", role))
	return c.JSON(dto.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	id := middleware.GetTerminalID(c)
	resp := dto.IdentityResponse{TerminalID: id, Role: middleware.GetRole(c)}
	if h.presence != nil && id != "" {
		resp.PushConnections = h.presence.TerminalConnections(id)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: resp})
}
