package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/taxi-dispatch/backend/internal/eventbus"
	"github.com/taxi-dispatch/backend/internal/feed"
	"github.com/taxi-dispatch/backend/internal/http/dto"
	"github.com/taxi-dispatch/backend/internal/payment"
)

type paymentWatcher interface {
	Watch(fn func(payment.State)) (stop func())
}

type feedWatcher interface {
	Watch(fn func(feed.Snapshot)) (stop func())
}

type stateWatcher interface {
	WatchState(w eventbus.StateWatcher) *eventbus.Subscription
}

// UIHub streams payment state, feed and connection changes to the local
// UI over websocket. Producers never block: when the queue is full the
// frame is dropped, and the UI catches up with the next one or on
// reconnect, when it receives a full snapshot.
type UIHub struct {
	handler *TerminalHandler
	log     *zap.Logger

	queue chan dto.StreamMessage

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewUIHub(handler *TerminalHandler, log *zap.Logger) *UIHub {
	return &UIHub{
		handler: handler,
		log:     log,
		queue:   make(chan dto.StreamMessage, 64),
		clients: make(map[*wsClient]struct{}),
	}
}

// Attach registers the hub as a watcher of all three sources. The
// returned func releases them.
func (h *UIHub) Attach(p paymentWatcher, f feedWatcher, bus stateWatcher) (detach func()) {
	stopPayment := p.Watch(func(st payment.State) { h.Publish(dto.StreamPaymentState, st) })
	stopFeed := f.Watch(func(s feed.Snapshot) { h.Publish(dto.StreamFeed, s) })
	sub := bus.WatchState(func(from, to eventbus.ConnState) {
		h.Publish(dto.StreamConnection, h.handler.connection())
	})
	return func() {
		stopPayment()
		stopFeed()
		sub.Unsubscribe()
	}
}

func (h *UIHub) Publish(kind string, payload any) {
	select {
	case h.queue <- dto.StreamMessage{Type: kind, Payload: payload}:
	default:
		h.log.Warn("ui stream queue full, dropping frame", zap.String("type", kind))
	}
}

// Run delivers queued frames until ctx is done.
func (h *UIHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.queue:
			h.broadcast(msg)
		}
	}
}

func (h *UIHub) broadcast(msg dto.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("ui frame marshal failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.log.Debug("ui write failed", zap.Error(err))
		}
	}
}

func (h *UIHub) snapshot() []dto.StreamMessage {
	return []dto.StreamMessage{
		{Type: dto.StreamConnection, Payload: h.handler.connection()},
		{Type: dto.StreamPaymentState, Payload: h.handler.payments.State()},
		{Type: dto.StreamFeed, Payload: h.handler.feed.Snapshot()},
	}
}

func (h *UIHub) HandleWS(conn *websocket.Conn) {
	client := &wsClient{conn: conn}
	for _, msg := range h.snapshot() {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := client.write(data); err != nil {
			conn.Close()
			return
		}
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
