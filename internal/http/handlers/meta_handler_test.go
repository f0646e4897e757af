package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxi-dispatch/backend/internal/payment"
	"github.com/taxi-dispatch/backend/internal/reconcile"
)

func TestMetaHandler(t *testing.T) {
	h := NewMetaHandler()
	app := fiber.New()
	app.Get("/types", h.GetNotificationTypes)
	app.Get("/phases", h.GetPaymentPhases)

	t.Run("notification types carry their category", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/types", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var body struct {
			Data []MetaNotificationType `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotEmpty(t, body.Data)
		for _, nt := range body.Data {
			assert.Equal(t, reconcile.Classify(nt.Type), nt.Category, nt.Type)
			assert.NotEqual(t, reconcile.CategoryInfo, nt.Category, nt.Type)
		}
	})

	t.Run("payment phases mark terminal ones", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/phases", nil))
		require.NoError(t, err)

		var body struct {
			Data []MetaPhase `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Data, 7)

		terminal := map[payment.Phase]bool{}
		for _, p := range body.Data {
			terminal[p.ID] = p.Terminal
		}
		assert.True(t, terminal[payment.PhaseCompleted])
		assert.True(t, terminal[payment.PhaseExpired])
		assert.False(t, terminal[payment.PhaseWaiting])
		assert.False(t, terminal[payment.PhaseIdle])
	})
}
