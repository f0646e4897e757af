package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/config"
	"github.com/taxi-dispatch/backend/internal/db"
	"github.com/taxi-dispatch/backend/internal/eventbus"
	"github.com/taxi-dispatch/backend/internal/events"
	"github.com/taxi-dispatch/backend/internal/feed"
	apphttp "github.com/taxi-dispatch/backend/internal/http"
	"github.com/taxi-dispatch/backend/internal/http/handlers"
	"github.com/taxi-dispatch/backend/internal/metrics"
	"github.com/taxi-dispatch/backend/internal/payment"
	"github.com/taxi-dispatch/backend/internal/services"
)

// Terminal agent: keeps the push connection to the gateway, runs the
// payment coordinator and the notification feed, and serves the local UI.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	if cfg.TerminalID == "" || cfg.TerminalToken == "" {
		log.Fatal("TERMINAL_ID and TERMINAL_TOKEN are required")
	}
	log = log.With(zap.String("terminal_id", cfg.TerminalID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		log.Fatal("failed to register metrics", zap.Error(err))
	}

	// Push transport
	transport, closeTransport, err := newTransport(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to set up push transport", zap.Error(err))
	}
	defer closeTransport()

	bus := eventbus.New(transport, eventbus.Options{
		InitialInterval: cfg.ReconnectInitial,
		MaxInterval:     cfg.ReconnectMax,
		Multiplier:      cfg.ReconnectMultiplier,
		Metrics:         m,
	}, log.Named("eventbus"))

	gateway := services.NewGatewayClient(cfg.GatewayURL, cfg.TerminalToken, log.Named("gateway"))

	// Payment
	coordinator := payment.NewCoordinator(gateway, payment.Config{
		Timeout:             cfg.PaymentTimeout,
		VerifyConfirmations: cfg.PaymentVerifyConfirmations,
		Metrics:             m,
	}, log.Named("payment"))
	detachPayments := coordinator.Attach(ctx, bus)
	defer detachPayments()

	// Notifications
	notifications := feed.New(gateway, bus, feed.Config{
		PollInterval: cfg.NotificationPollInterval,
		Metrics:      m,
	}, log.Named("feed"))

	go func() {
		if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event bus stopped", zap.Error(err))
		}
	}()

	if err := notifications.Start(ctx); err != nil {
		log.Warn("initial notification fetch failed", zap.Error(err))
	}
	defer notifications.Stop()

	// Local UI
	terminalHandler := handlers.NewTerminalHandler(coordinator, notifications, bus, transport.Name(), log)
	uiHub := handlers.NewUIHub(terminalHandler, log.Named("ui"))
	detachUI := uiHub.Attach(coordinator, notifications, bus)
	defer detachUI()
	go uiHub.Run(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupTerminalRouter(app, log, reg, terminalHandler, uiHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		bus.Close()
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("127.0.0.1:%s", cfg.TerminalPort)
	log.Info("starting terminal agent",
		zap.String("addr", addr),
		zap.String("transport", transport.Name()),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// newTransport builds the push transport selected by PUSH_TRANSPORT. The
// returned func releases whatever the transport holds beyond its
// connections.
func newTransport(ctx context.Context, cfg *config.Config, log *zap.Logger) (eventbus.Transport, func(), error) {
	switch cfg.PushTransport {
	case config.PushTransportRedis:
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, nil, err
		}
		t := &eventbus.RedisTransport{Client: rdb, Channel: events.TerminalChannel(cfg.TerminalID)}
		return t, func() { _ = rdb.Close() }, nil
	case config.PushTransportMQTT:
		t := &eventbus.MQTTTransport{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic(),
			QoS:      1,
		}
		return t, func() {}, nil
	default:
		header := http.Header{}
		header.Set("Authorization", "Bearer "+cfg.TerminalToken)
		t := &eventbus.WebSocketTransport{URL: cfg.PushURL, Header: header}
		return t, func() {}, nil
	}
}
