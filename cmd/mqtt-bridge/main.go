package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/bridge"
	"github.com/taxi-dispatch/backend/internal/config"
	"github.com/taxi-dispatch/backend/internal/db"
	"github.com/taxi-dispatch/backend/internal/events"
)

// MQTT bridge: republishes terminal events from Redis onto the broker for
// terminals running with PUSH_TRANSPORT=mqtt.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "mqtt-bridge"
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second)
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	}
	opts.OnConnect = func(paho.Client) {
		log.Info("mqtt connected", zap.String("broker", cfg.MQTTBroker))
	}

	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		log.Fatal("failed to connect to mqtt", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	mqttBridge := bridge.NewMQTTBridge(client, cfg.MQTTTopicPrefix, 1, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	if err := subscriber.Subscribe(ctx, events.TerminalChannelPattern, mqttBridge.Forward); err != nil {
		log.Fatal("failed to subscribe to terminal events", zap.Error(err))
	}

	log.Info("mqtt-bridge started", zap.String("prefix", cfg.MQTTTopicPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down mqtt-bridge")
	cancel()
}
