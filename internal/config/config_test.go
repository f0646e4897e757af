package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://gw.example.com/")
	t.Setenv("TERMINAL_ID", "t-17")
	t.Setenv("PAYMENT_TIMEOUT_SECONDS", "")

	cfg := Load()
	assert.Equal(t, 5*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, "wss://gw.example.com/ws", cfg.PushURL)
	assert.Equal(t, "terminal-t-17", cfg.MQTTClientID)
	assert.Equal(t, "taxi/t-17/events", cfg.MQTTTopic())
	assert.Equal(t, 2.0, cfg.ReconnectMultiplier)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PUSH_TRANSPORT", "MQTT")
	t.Setenv("PUSH_URL", "ws://local:9000/ws")
	t.Setenv("RECONNECT_INITIAL_MS", "250")
	t.Setenv("RECONNECT_MULTIPLIER", "1.5")
	t.Setenv("PAYMENT_VERIFY_CONFIRMATIONS", "true")
	t.Setenv("NOTIFICATION_POLL_SECONDS", "not-a-number")

	cfg := Load()
	assert.Equal(t, PushTransportMQTT, cfg.PushTransport)
	assert.Equal(t, "ws://local:9000/ws", cfg.PushURL)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectInitial)
	assert.Equal(t, 1.5, cfg.ReconnectMultiplier)
	assert.True(t, cfg.PaymentVerifyConfirmations)
	assert.Zero(t, cfg.NotificationPollInterval)
}

func TestValidateUnknownTransport(t *testing.T) {
	cfg := &Config{PushTransport: "carrier-pigeon"}
	cfg.Validate(zap.NewNop())
	assert.Equal(t, PushTransportWebSocket, cfg.PushTransport)
}
