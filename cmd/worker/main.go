package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/config"
	"github.com/taxi-dispatch/backend/internal/db"
	"github.com/taxi-dispatch/backend/internal/events"
	apphttp "github.com/taxi-dispatch/backend/internal/http"
	"github.com/taxi-dispatch/backend/internal/repositories"
	"github.com/taxi-dispatch/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	paymentService := services.NewPaymentService(repositories.NewPaymentRepo(pool), publisher, services.PaymentServiceConfig{
		Timeout:   cfg.PaymentTimeout,
		PublicURL: cfg.PaymentPublicURL,
		QRSize:    cfg.QRSizePx,
	}, log.Named("payments"))
	notificationService := services.NewNotificationService(repositories.NewNotificationRepo(pool), publisher, log.Named("notifications"))

	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_payments_expired_total",
		Help: "Pending payments expired by the sweeper",
	})
	pruned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_notifications_pruned_total",
		Help: "Read notifications deleted after retention",
	})
	prometheus.MustRegister(expired, pruned)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	apphttp.SetupWorkerRouter(app, log, prometheus.DefaultGatherer)
	go func() {
		if err := app.Listen(fmt.Sprintf(":%s", cfg.WorkerPort)); err != nil {
			log.Error("worker http server error", zap.Error(err))
		}
	}()
	defer app.Shutdown()

	log.Info("worker started")

	if cfg.PaymentSweepInterval <= 0 {
		log.Fatal("PAYMENT_SWEEP_SECONDS must be positive")
	}

	// Run jobs on tickers
	sweepTicker := time.NewTicker(cfg.PaymentSweepInterval)
	pruneTicker := time.NewTicker(1 * time.Hour)
	defer sweepTicker.Stop()
	defer pruneTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			runPaymentSweep(ctx, paymentService, expired, log)
		case <-pruneTicker.C:
			runNotificationPrune(ctx, notificationService, cfg.NotificationRetention, pruned, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runPaymentSweep expires pending payments whose window has passed, so a
// terminal that missed the push still sees a final status on its next check.
func runPaymentSweep(ctx context.Context, payments *services.PaymentService, expired prometheus.Counter, log *zap.Logger) {
	n, err := payments.ExpireStale(ctx)
	if err != nil {
		log.Error("failed to expire stale payments", zap.Error(err))
	}
	expired.Add(float64(n))
}

func runNotificationPrune(ctx context.Context, notifications *services.NotificationService, retention time.Duration, pruned prometheus.Counter, log *zap.Logger) {
	if retention <= 0 {
		return
	}
	n, err := notifications.Prune(ctx, time.Now(), retention)
	if err != nil {
		log.Error("failed to prune notifications", zap.Error(err))
		return
	}
	if n > 0 {
		pruned.Add(float64(n))
		log.Info("pruned read notifications", zap.Int64("count", n))
	}
}
