package eventbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/fasthttp/websocket"
	"github.com/redis/go-redis/v9"
)

// Transport opens push connections. The bus owns reconnection, so a
// Transport must not reconnect on its own.
type Transport interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live push connection.
type Conn interface {
	// Read blocks until the next frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// WebSocketTransport connects to the gateway's /ws endpoint.
type WebSocketTransport struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake returned %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	once sync.Once
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() { err = c.conn.Close() })
	return err
}

// RedisTransport reads frames straight from the subject's pub/sub channel.
// Used by terminals running next to the gateway's Redis.
type RedisTransport struct {
	Client  *redis.Client
	Channel string
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) Dial(ctx context.Context) (Conn, error) {
	ps := t.Client.Subscribe(ctx, t.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", t.Channel, err)
	}
	return &redisConn{ps: ps, ch: ps.Channel()}, nil
}

type redisConn struct {
	ps *redis.PubSub
	ch <-chan *redis.Message
}

func (c *redisConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-c.ch:
		if !ok {
			return nil, io.EOF
		}
		return []byte(msg.Payload), nil
	}
}

func (c *redisConn) Close() error { return c.ps.Close() }

type mqttClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) mqttClient {
	return paho.NewClient(opts)
}

var errConnectionClosed = errors.New("connection closed")

// MQTTTransport subscribes to the subject's event topic on a broker.
type MQTTTransport struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
}

func (t *MQTTTransport) Name() string { return "mqtt" }

func (t *MQTTTransport) Dial(ctx context.Context) (Conn, error) {
	timeout := t.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &mqttConn{
		frames: make(chan []byte, 64),
		lost:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	opts := paho.NewClientOptions().AddBroker(t.Broker).SetClientID(t.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(timeout)
	if t.Username != "" {
		opts.SetUsername(t.Username)
		opts.SetPassword(t.Password)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		select {
		case c.lost <- err:
		default:
		}
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); !token.WaitTimeout(timeout) {
		cli.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timed out", t.Broker)
	} else if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", t.Broker, token.Error())
	}
	c.cli = cli

	token := cli.Subscribe(t.Topic, t.QoS, func(_ paho.Client, msg paho.Message) {
		select {
		case c.frames <- msg.Payload():
		case <-c.done:
		}
	})
	if !token.WaitTimeout(timeout) || token.Error() != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mqtt subscribe %s: %v", t.Topic, token.Error())
	}
	if ctx.Err() != nil {
		_ = c.Close()
		return nil, ctx.Err()
	}
	return c, nil
}

type mqttConn struct {
	cli    mqttClient
	frames chan []byte
	lost   chan error
	done   chan struct{}
	once   sync.Once
}

func (c *mqttConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errConnectionClosed
	case err := <-c.lost:
		return nil, fmt.Errorf("mqtt connection lost: %w", err)
	case frame := <-c.frames:
		return frame, nil
	}
}

func (c *mqttConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.cli.Disconnect(250)
	})
	return nil
}
