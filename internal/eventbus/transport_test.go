package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (d dummyToken) Error() error { return d.err }

type mockMessage struct{ p []byte }

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 1 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return "" }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

type mockMQTT struct {
	opts         *paho.ClientOptions
	connectErr   error
	topic        string
	callback     paho.MessageHandler
	disconnected bool
}

func (m *mockMQTT) Connect() paho.Token { return dummyToken{err: m.connectErr} }
func (m *mockMQTT) Disconnect(uint)     { m.disconnected = true }
func (m *mockMQTT) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	m.topic = topic
	m.callback = cb
	return dummyToken{}
}

func withMockMQTT(t *testing.T, m *mockMQTT) {
	t.Helper()
	orig := newMQTTClient
	newMQTTClient = func(opts *paho.ClientOptions) mqttClient {
		m.opts = opts
		return m
	}
	t.Cleanup(func() { newMQTTClient = orig })
}

func TestMQTTTransportDeliversMessages(t *testing.T) {
	m := &mockMQTT{}
	withMockMQTT(t, m)

	tr := &MQTTTransport{Broker: "tcp://localhost:1883", ClientID: "term-1", Topic: "taxi/term-1/events", QoS: 1}
	conn, err := tr.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "taxi/term-1/events", m.topic)
	assert.False(t, m.opts.AutoReconnect)

	go m.callback(nil, mockMessage{p: []byte(confirmedFrame)})

	frame, err := conn.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, confirmedFrame, string(frame))
}

func TestMQTTTransportReportsConnectionLoss(t *testing.T) {
	m := &mockMQTT{}
	withMockMQTT(t, m)

	conn, err := (&MQTTTransport{Broker: "tcp://b:1883", Topic: "t"}).Dial(context.Background())
	require.NoError(t, err)

	m.opts.OnConnectionLost(nil, errors.New("broker went away"))

	_, err = conn.Read(context.Background())
	assert.ErrorContains(t, err, "broker went away")

	require.NoError(t, conn.Close())
	assert.True(t, m.disconnected)
}

func TestMQTTTransportConnectError(t *testing.T) {
	withMockMQTT(t, &mockMQTT{connectErr: errors.New("not authorized")})

	_, err := (&MQTTTransport{Broker: "tcp://b:1883", Topic: "t"}).Dial(context.Background())
	assert.ErrorContains(t, err, "not authorized")
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "ConnState(9)", ConnState(9).String())
}
