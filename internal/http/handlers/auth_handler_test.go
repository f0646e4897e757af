package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/auth"
	"github.com/taxi-dispatch/backend/internal/http/dto"
	"github.com/taxi-dispatch/backend/internal/middleware"
)

type presence map[string]int

func (p presence) TerminalConnections(id string) int { return p[id] }

func newAuthApp(t *testing.T) (*fiber.App, string) {
	t.Helper()
	h := NewAuthHandler("secret", 2*time.Hour, presence{"t-9": 2}, zap.NewNop())
	app := fiber.New()
	api := app.Group("/", middleware.AuthMiddleware("secret", zap.NewNop()))
	api.Get("/me", h.Me)
	api.Post("/refresh", h.Refresh)

	tok, err := auth.GenerateJWT("secret", "t-9", auth.RoleTerminal, time.Minute)
	require.NoError(t, err)
	return app, tok
}

func TestAuthHandlerRefresh(t *testing.T) {
	app, tok := newAuthApp(t)

	req := httptest.NewRequest("POST", "/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body dto.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), body.ExpiresAt, time.Minute)

	claims, err := auth.ParseJWT("secret", body.Token)
	require.NoError(t, err)
	assert.Equal(t, "t-9", claims.TerminalID)
	assert.Equal(t, auth.RoleTerminal, claims.Role)
	assert.True(t, claims.ExpiresAt.After(time.Now().Add(time.Hour)))
}

func TestAuthHandlerMe(t *testing.T) {
	app, tok := newAuthApp(t)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data dto.IdentityResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, dto.IdentityResponse{TerminalID: "t-9", Role: auth.RoleTerminal, PushConnections: 2}, body.Data)
}
