package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/config"
	"github.com/taxi-dispatch/backend/internal/db"
	"github.com/taxi-dispatch/backend/internal/events"
	apphttp "github.com/taxi-dispatch/backend/internal/http"
	"github.com/taxi-dispatch/backend/internal/http/handlers"
	"github.com/taxi-dispatch/backend/internal/repositories"
	"github.com/taxi-dispatch/backend/internal/services"
	"github.com/taxi-dispatch/backend/migrations"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PostgresMaxConns)}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	paymentRepo := repositories.NewPaymentRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	paymentService := services.NewPaymentService(paymentRepo, publisher, services.PaymentServiceConfig{
		Timeout:   cfg.PaymentTimeout,
		PublicURL: cfg.PaymentPublicURL,
		QRSize:    cfg.QRSizePx,
	}, log.Named("payments"))
	notificationService := services.NewNotificationService(notificationRepo, publisher, log.Named("notifications"))

	// Handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, cfg.ProviderWebhookSecret, log)
	notificationHandler := handlers.NewNotificationHandler(notificationService, log)
	wsHub := handlers.NewWSHub(cfg.JWTSecret, subscriber, log.Named("ws"))
	authHandler := handlers.NewAuthHandler(cfg.JWTSecret, cfg.JWTExpiration, wsHub, log)

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to terminal events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupGatewayRouter(app, apphttp.GatewayDeps{
		JWTSecret:           cfg.JWTSecret,
		Log:                 log,
		Redis:               rdb,
		Gatherer:            prometheus.DefaultGatherer,
		PaymentHandler:      paymentHandler,
		NotificationHandler: notificationHandler,
		WSHub:               wsHub,
		AuthHandler:         authHandler,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
