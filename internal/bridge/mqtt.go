// Package bridge republishes terminal events from Redis onto MQTT topics
// for terminals that use the MQTT push transport.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/events"
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type MQTTBridge struct {
	client  publisher
	prefix  string
	qos     byte
	timeout time.Duration
	log     *zap.Logger
}

func NewMQTTBridge(client paho.Client, prefix string, qos byte, log *zap.Logger) *MQTTBridge {
	return newBridge(client, prefix, qos, log)
}

func newBridge(client publisher, prefix string, qos byte, log *zap.Logger) *MQTTBridge {
	return &MQTTBridge{
		client:  client,
		prefix:  strings.TrimRight(prefix, "/"),
		qos:     qos,
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Topic is the MQTT topic of subject's events.
func (b *MQTTBridge) Topic(subject string) string {
	return b.prefix + "/" + subject + "/events"
}

// Forward republishes one envelope received on a terminal channel. It is
// shaped to be passed to events.Subscriber.Subscribe.
func (b *MQTTBridge) Forward(channel string, env events.Envelope) {
	if err := b.forward(channel, env); err != nil {
		b.log.Warn("mqtt forward failed", zap.String("channel", channel), zap.String("event", string(env.Event)), zap.Error(err))
	}
}

func (b *MQTTBridge) forward(channel string, env events.Envelope) error {
	subject, ok := events.SubjectFromChannel(channel)
	if !ok {
		return fmt.Errorf("not a terminal channel")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	topic := b.Topic(subject)
	token := b.client.Publish(topic, b.qos, false, payload)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	b.log.Debug("event forwarded to mqtt", zap.String("topic", topic), zap.String("event", string(env.Event)))
	return nil
}
